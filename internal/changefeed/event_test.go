package changefeed

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseChangeEvent(t *testing.T) {
	userID := uuid.New()
	payload := []byte(`{"stream":"activity","operation":"insert","documentId":"a1",` +
		`"fullDocument":{"id":"` + uuid.NewString() + `","user_id":"` + userID.String() + `","action":"home_visit","time_spent":null}}`)

	ev, err := ParseChangeEvent(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	activity, err := ev.Activity()
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if activity.UserID != userID || activity.Action != "home_visit" || activity.TimeSpent != nil {
		t.Fatalf("unexpected activity: %+v", activity)
	}
}

func TestParseChangeEventRejectsUnknownStream(t *testing.T) {
	cases := []string{
		`{"stream":"users","operation":"insert","documentId":"x"}`,
		`{"stream":"progress","operation":"update"}`,
		`not json`,
	}
	for _, payload := range cases {
		if _, err := ParseChangeEvent([]byte(payload)); err == nil {
			t.Fatalf("expected error for %s", payload)
		}
	}
}

func TestSelfUpdate(t *testing.T) {
	cases := []struct {
		name string
		ev   ChangeEvent
		self bool
	}{
		{
			name: "promotion marker",
			ev:   ChangeEvent{Stream: StreamProgress, UpdatedFields: []string{"badge_id", "promoted_at"}},
			self: true,
		},
		{
			name: "evaluator source",
			ev: ChangeEvent{
				Stream:        StreamProgress,
				UpdatedFields: []string{"update_source", "task_completed"},
				FullDocument:  []byte(`{"user_id":"` + uuid.NewString() + `","update_source":"achievement_evaluator"}`),
			},
			self: true,
		},
		{
			name: "updater write",
			ev: ChangeEvent{
				Stream:        StreamProgress,
				UpdatedFields: []string{"update_source", "app_opened_count"},
				FullDocument:  []byte(`{"user_id":"` + uuid.NewString() + `","update_source":"progress_updater"}`),
			},
			self: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			self, reason := tc.ev.SelfUpdate()
			if self != tc.self {
				t.Fatalf("expected self=%v, got %v (%s)", tc.self, self, reason)
			}
		})
	}
}
