package presenter_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/YoshitsuguKoike/deeplay/internal/adapter/presenter"
	"github.com/YoshitsuguKoike/deeplay/internal/application/dto"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
)

func TestJSONPresenter_PresentSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	p := presenter.NewJSONPresenter(buf)

	data := &dto.RunDTO{
		ID:     "01HZY8Q0000000000000000000",
		Status: "running",
	}

	err := p.PresentSuccess("Run started", data)
	if err != nil {
		t.Fatalf("PresentSuccess() error = %v", err)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(buf).Decode(&result); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}

	if result["success"] != true {
		t.Errorf("Expected success=true, got %v", result["success"])
	}

	if result["message"] != "Run started" {
		t.Errorf("Expected message='Run started', got %v", result["message"])
	}

	run, ok := result["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected data object, got %T", result["data"])
	}
	if run["status"] != "running" {
		t.Errorf("Expected status=running, got %v", run["status"])
	}
}

func TestJSONPresenter_PresentError(t *testing.T) {
	buf := &bytes.Buffer{}
	p := presenter.NewJSONPresenter(buf)

	testErr := errors.New("test error")
	err := p.PresentError(testErr)
	if err != nil {
		t.Fatalf("PresentError() error = %v", err)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(buf).Decode(&result); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}

	if result["success"] != false {
		t.Errorf("Expected success=false, got %v", result["success"])
	}

	if result["error"] != "test error" {
		t.Errorf("Expected error='test error', got %v", result["error"])
	}

	if _, ok := result["code"]; ok {
		t.Error("Expected no code for a plain error")
	}
}

func TestJSONPresenter_PresentDomainError(t *testing.T) {
	buf := &bytes.Buffer{}
	p := presenter.NewJSONPresenter(buf)

	wrapped := fmt.Errorf("approve: %w", model.NewStateConflictError("run is %s", "completed"))
	if err := p.PresentError(wrapped); err != nil {
		t.Fatalf("PresentError() error = %v", err)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(buf).Decode(&result); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}

	if result["code"] != model.CodeStateConflict {
		t.Errorf("Expected code=%s, got %v", model.CodeStateConflict, result["code"])
	}
	if result["error"] != "run is completed" {
		t.Errorf("Expected bare message, got %v", result["error"])
	}
}
