package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/saathi-app/saathi-backend/internal/clients/llm"
	"github.com/saathi-app/saathi-backend/internal/domain/convo"
	apperrors "github.com/saathi-app/saathi-backend/internal/pkg/errors"
	"github.com/saathi-app/saathi-backend/internal/pkg/logger"
)

func TestParseMoodObject(t *testing.T) {
	tests := []struct {
		name    string
		obj     map[string]any
		want    MoodReading
		wantErr bool
	}{
		{
			name: "full reading",
			obj: map[string]any{
				"mood":            "Anxious",
				"intensity":       float64(7),
				"themes":          []any{"Work", "sleep"},
				"needs_support":   true,
				"secondary_moods": []any{"tired"},
			},
			want: MoodReading{
				Mood:           "anxious",
				Intensity:      7,
				Themes:         []string{"work", "sleep"},
				NeedsSupport:   true,
				SecondaryMoods: []string{"tired"},
			},
		},
		{
			name: "intensity clamped high",
			obj:  map[string]any{"mood": "happy", "intensity": float64(14)},
			want: MoodReading{Mood: "happy", Intensity: 10, Themes: []string{}, SecondaryMoods: []string{}},
		},
		{
			name: "intensity clamped low",
			obj:  map[string]any{"mood": "calm", "intensity": float64(0)},
			want: MoodReading{Mood: "calm", Intensity: 1, Themes: []string{}, SecondaryMoods: []string{}},
		},
		{
			name:    "missing mood",
			obj:     map[string]any{"intensity": float64(5)},
			wantErr: true,
		},
		{
			name:    "missing intensity",
			obj:     map[string]any{"mood": "sad"},
			wantErr: true,
		},
		{
			name: "garbage themes tolerated",
			obj:  map[string]any{"mood": "sad", "intensity": float64(4), "themes": "not-a-list"},
			want: MoodReading{Mood: "sad", Intensity: 4, Themes: []string{}, SecondaryMoods: []string{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMoodObject(tt.obj)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				if !errors.Is(err, apperrors.ErrValidation) {
					t.Fatalf("error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMoodObject: %v", err)
			}
			if got.Mood != tt.want.Mood || got.Intensity != tt.want.Intensity || got.NeedsSupport != tt.want.NeedsSupport {
				t.Fatalf("reading = %+v, want %+v", got, tt.want)
			}
			if len(got.Themes) != len(tt.want.Themes) {
				t.Fatalf("themes = %v, want %v", got.Themes, tt.want.Themes)
			}
			for i := range got.Themes {
				if got.Themes[i] != tt.want.Themes[i] {
					t.Fatalf("themes = %v, want %v", got.Themes, tt.want.Themes)
				}
			}
		})
	}
}

func TestMoodAnalyzePropagatesClientError(t *testing.T) {
	fake := &fakeLLM{
		jsonFn: func(llm.Request) (map[string]any, error) {
			return nil, errors.New("timeout")
		},
	}
	svc := NewMoodService(logger.NewNop(), fake)

	_, err := svc.Analyze(context.Background(), "long day", nil)
	if err == nil {
		t.Fatalf("expected error from failing client")
	}
}

func TestMoodAnalyzeIncludesRecentContext(t *testing.T) {
	fake := &fakeLLM{
		jsonFn: func(req llm.Request) (map[string]any, error) {
			if !strings.Contains(req.User, "slept badly again") {
				t.Errorf("recent context missing from prompt:\n%s", req.User)
			}
			if !strings.Contains(req.User, `Message to analyze: "fine."`) {
				t.Errorf("target message missing from prompt:\n%s", req.User)
			}
			return map[string]any{"mood": "tired", "intensity": float64(6)}, nil
		},
	}
	svc := NewMoodService(logger.NewNop(), fake)

	recent := []*convo.Turn{
		{Sender: convo.SenderUser, Content: "slept badly again"},
		{Sender: convo.SenderAssistant, Content: "that sounds rough"},
	}
	got, err := svc.Analyze(context.Background(), "fine.", recent)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Mood != "tired" {
		t.Fatalf("mood = %q", got.Mood)
	}
}

func TestNeutralMoodDefault(t *testing.T) {
	n := NeutralMood()
	if n.Mood != "neutral" || n.Intensity != 5 || n.NeedsSupport {
		t.Fatalf("neutral default = %+v", n)
	}
	if n.Themes == nil || len(n.Themes) != 0 {
		t.Fatalf("neutral themes = %v", n.Themes)
	}
}
