// Package report renders a completed or in-progress execution's task set
// to an XLSX workbook, one sheet per movement phase, for operators who want
// an audit trail alongside the executor's own state API.
package report

import (
	"fmt"

	"github.com/cyw0ng95/execore/pkg/execmodel"
	"github.com/xuri/excelize/v2"
)

var sheetNames = map[execmodel.TaskType]string{
	execmodel.InterBrokerReplica: "InterBroker",
	execmodel.IntraBrokerReplica: "IntraBroker",
	execmodel.Leader:             "Leader",
}

var header = []string{"ID", "Topic", "Partition", "BrokerID", "State", "StartTimeMs", "EndTimeMs", "OldReplicas", "NewReplicas"}

// WriteTasksXLSX renders tasks into outputPath, grouped into one sheet per
// task type. Tasks of a type with no entries still get an empty sheet with
// headers, so a partial run's XLSX always has all three tabs.
func WriteTasksXLSX(tasks []*execmodel.ExecutionTask, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	byType := make(map[execmodel.TaskType][]*execmodel.ExecutionTask)
	for _, task := range tasks {
		byType[task.Type] = append(byType[task.Type], task)
	}

	firstSheet := ""
	for _, tt := range []execmodel.TaskType{execmodel.InterBrokerReplica, execmodel.IntraBrokerReplica, execmodel.Leader} {
		name := sheetNames[tt]
		if firstSheet == "" {
			firstSheet = name
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return fmt.Errorf("report: rename default sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("report: create sheet %s: %w", name, err)
		}

		if err := writeHeader(f, name); err != nil {
			return err
		}
		if err := writeRows(f, name, byType[tt]); err != nil {
			return err
		}
	}

	f.SetActiveSheet(0)
	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("report: save %s: %w", outputPath, err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string) error {
	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return err
		}
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, tasks []*execmodel.ExecutionTask) error {
	for i, task := range tasks {
		row := i + 2
		values := []interface{}{
			task.ID,
			task.Proposal.TopicPartition.Topic,
			task.Proposal.TopicPartition.Partition,
			task.BrokerID,
			task.State().String(),
			task.StartTimeMs(),
			task.EndTimeMs(),
			fmt.Sprint(task.Proposal.OldReplicas),
			fmt.Sprint(task.Proposal.NewReplicas),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}
