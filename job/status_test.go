package job

import (
	"encoding/json"
	"testing"
)

func TestStatusCodesAreStable(t *testing.T) {
	codes := map[Status]int16{
		StatusOpen:      0,
		StatusTaken:     1,
		StatusCompleted: 2,
		StatusClosed:    3,
		StatusCancelled: 4,
		StatusDisputed:  5,
	}
	for status, code := range codes {
		if int16(status) != code {
			t.Errorf("%s = %d, want %d", status, int16(status), code)
		}
	}
}

func TestCanTransitionTo(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusOpen, StatusTaken}:         true,
		{StatusOpen, StatusCancelled}:     true,
		{StatusTaken, StatusCompleted}:    true,
		{StatusTaken, StatusDisputed}:     true,
		{StatusCompleted, StatusClosed}:   true,
		{StatusCompleted, StatusDisputed}: true,
		{StatusDisputed, StatusClosed}:    true,
	}
	for from := StatusOpen; from <= StatusDisputed; from++ {
		for to := StatusOpen; to <= StatusDisputed; to++ {
			want := allowed[[2]Status{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminal(t *testing.T) {
	for s := StatusOpen; s <= StatusDisputed; s++ {
		want := s == StatusClosed || s == StatusCancelled
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, s.Terminal(), want)
		}
		if want {
			for next := StatusOpen; next <= StatusDisputed; next++ {
				if s.CanTransitionTo(next) {
					t.Errorf("terminal %s must not transition to %s", s, next)
				}
			}
		}
	}
	if Status(9).Valid() {
		t.Errorf("Status(9) must be invalid")
	}
}

func TestJobJSONCarriesStatusCode(t *testing.T) {
	raw, err := json.Marshal(Job{ID: 7, Employer: "0xabc", Status: StatusDisputed, Payment: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["status"] != "disputed" || got["status_code"] != float64(5) {
		t.Errorf("status = %v, status_code = %v, want disputed, 5", got["status"], got["status_code"])
	}
	if got["id"] != float64(7) || got["payment"] != float64(1) {
		t.Errorf("fields lost: %s", raw)
	}
}
