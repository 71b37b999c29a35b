package presenter

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/YoshitsuguKoike/deeplay/internal/application/port/output"
	"github.com/YoshitsuguKoike/deeplay/internal/domain/model"
)

// JSONPresenter implements output.Presenter for JSON output
// Formats all output as JSON for programmatic consumption
type JSONPresenter struct {
	output io.Writer
}

// NewJSONPresenter creates a new JSON presenter
func NewJSONPresenter(output io.Writer) output.Presenter {
	return &JSONPresenter{output: output}
}

// PresentSuccess presents a successful result as JSON
func (p *JSONPresenter) PresentSuccess(message string, data interface{}) error {
	result := map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	}
	return p.encode(result)
}

// PresentError presents an error as JSON, with its code when it is a domain error
func (p *JSONPresenter) PresentError(err error) error {
	result := map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	}
	var domainErr *model.DomainError
	if errors.As(err, &domainErr) {
		result["code"] = domainErr.Code
		result["error"] = domainErr.Message
		if len(domainErr.Details) > 0 {
			result["details"] = domainErr.Details
		}
	}
	return p.encode(result)
}

func (p *JSONPresenter) encode(v interface{}) error {
	enc := json.NewEncoder(p.output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
