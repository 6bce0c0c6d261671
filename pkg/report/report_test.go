package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyw0ng95/execore/pkg/execmodel"
	"github.com/xuri/excelize/v2"
)

func TestWriteTasksXLSXCreatesOneSheetPerType(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "report.xlsx")

	proposal := execmodel.Proposal{
		TopicPartition: execmodel.TopicPartition{Topic: "orders", Partition: 0},
		OldReplicas:    []int32{1, 2},
		NewReplicas:    []int32{2, 3},
	}
	task := execmodel.NewExecutionTask(1, execmodel.InterBrokerReplica, proposal, 0)
	_ = task.Transition(execmodel.InProgress, 0)
	_ = task.Transition(execmodel.Completed, 10)

	if err := WriteTasksXLSX([]*execmodel.ExecutionTask{task}, outputPath); err != nil {
		t.Fatalf("writeTasksXLSX: %v", err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		t.Fatalf("expected output file to exist: %v", err)
	}

	f, err := excelize.OpenFile(outputPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	for _, name := range []string{"InterBroker", "IntraBroker", "Leader"} {
		rows, err := f.GetRows(name)
		if err != nil {
			t.Fatalf("get rows for %s: %v", name, err)
		}
		if len(rows) == 0 {
			t.Fatalf("expected at least a header row in sheet %s", name)
		}
	}

	rows, err := f.GetRows("InterBroker")
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 task row, got %d rows", len(rows))
	}
	if rows[1][1] != "orders" {
		t.Fatalf("expected topic column to be orders, got %s", rows[1][1])
	}
}

func TestWriteTasksXLSXEmptyTaskList(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "empty.xlsx")

	if err := WriteTasksXLSX(nil, outputPath); err != nil {
		t.Fatalf("writeTasksXLSX: %v", err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		t.Fatalf("expected output file to exist: %v", err)
	}
}
