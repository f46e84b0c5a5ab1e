package main

import (
	"bytes"
	"strings"
	"testing"

	"burnline/internal/burndown"
)

func TestRenderBurndown(t *testing.T) {
	from := "2023-12-30"
	res := burndown.Result{
		ScopeName:         "Sprint 1",
		StartDate:         "2024-01-01",
		EndDate:           "2024-01-14",
		TotalTasksAtStart: 4,
		DataAvailableFrom: &from,
		DailySnapshots: []burndown.DailySnapshot{
			{Date: "2024-01-01", Remaining: 4},
			{Date: "2024-01-02", Remaining: 3, Completed: 1},
		},
	}
	var buf bytes.Buffer
	renderBurndown(&buf, res)
	out := buf.String()
	for _, want := range []string{"Sprint 1", "2024-01-01 .. 2024-01-14", "2024-01-02", "2023-12-30"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if got := strings.Count(out, "2024-01-0"); got < 3 {
		t.Fatalf("expected a row per day, got:\n%s", out)
	}
}
