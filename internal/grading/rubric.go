package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const rubricSchemaURL = "coursework://rubric.schema.json"

const rubricSchemaDocument = `{
  "type": "object",
  "required": ["criteria"],
  "properties": {
    "criteria": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "levels"],
        "properties": {
          "id": {"type": "string", "minLength": 1, "maxLength": 64},
          "description": {"type": "string"},
          "levels": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["score"],
              "properties": {
                "score": {"type": "integer", "minimum": 0},
                "definition": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var (
	rubricSchemaOnce sync.Once
	rubricSchema     *jsonschema.Schema
	rubricSchemaErr  error
)

// RubricLevel is one selectable level of a criterion.
type RubricLevel struct {
	Score      float64 `json:"score"`
	Definition string  `json:"definition,omitempty"`
}

// RubricCriterion is one rubric row with its discrete levels.
type RubricCriterion struct {
	ID          string        `json:"id"`
	Description string        `json:"description,omitempty"`
	Levels      []RubricLevel `json:"levels"`
}

// Rubric is the per-criterion grading definition of a coursework.
type Rubric struct {
	Criteria []RubricCriterion `json:"criteria"`
}

func compiledRubricSchema() (*jsonschema.Schema, error) {
	rubricSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(rubricSchemaURL, strings.NewReader(rubricSchemaDocument)); err != nil {
			rubricSchemaErr = fmt.Errorf("register rubric schema: %w", err)
			return
		}
		rubricSchema, rubricSchemaErr = compiler.Compile(rubricSchemaURL)
	})
	return rubricSchema, rubricSchemaErr
}

// ParseRubric validates a rubric document against its schema and decodes it.
func ParseRubric(raw []byte) (Rubric, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Rubric{}, NewValidationError(ErrRubricDefinition, FieldError{Field: "rubric", Error: "is empty"})
	}

	schema, err := compiledRubricSchema()
	if err != nil {
		return Rubric{}, err
	}

	var document interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return Rubric{}, NewValidationError(ErrRubricDefinition, FieldError{Field: "rubric", Error: err.Error()})
	}

	if err := schema.Validate(document); err != nil {
		var schemaErr *jsonschema.ValidationError
		if errors.As(err, &schemaErr) {
			return Rubric{}, NewValidationError(ErrRubricDefinition, schemaFieldErrors(schemaErr)...)
		}
		return Rubric{}, NewValidationError(ErrRubricDefinition, FieldError{Field: "rubric", Error: err.Error()})
	}

	var rubric Rubric
	if err := json.Unmarshal(raw, &rubric); err != nil {
		return Rubric{}, NewValidationError(ErrRubricDefinition, FieldError{Field: "rubric", Error: err.Error()})
	}

	seen := make(map[string]struct{}, len(rubric.Criteria))
	for _, criterion := range rubric.Criteria {
		if _, dup := seen[criterion.ID]; dup {
			return Rubric{}, NewValidationError(ErrRubricDefinition, FieldError{Field: criterion.ID, Error: "duplicate criterion id"})
		}
		seen[criterion.ID] = struct{}{}
	}

	return rubric, nil
}

func schemaFieldErrors(root *jsonschema.ValidationError) []FieldError {
	var fields []FieldError
	var walk func(ve *jsonschema.ValidationError)
	walk = func(ve *jsonschema.ValidationError) {
		if len(ve.Causes) == 0 {
			location := ve.InstanceLocation
			if location == "" {
				location = "/"
			}
			fields = append(fields, FieldError{Field: location, Error: ve.Message})
			return
		}
		for _, cause := range ve.Causes {
			walk(cause)
		}
	}
	walk(root)
	return fields
}

// MaxScore sums the highest level of every criterion.
func (r Rubric) MaxScore() float64 {
	total := 0.0
	for _, criterion := range r.Criteria {
		best := 0.0
		for _, level := range criterion.Levels {
			best = math.Max(best, level.Score)
		}
		total += best
	}
	return total
}

// Criterion looks up a criterion by id.
func (r Rubric) Criterion(id string) (RubricCriterion, bool) {
	for _, criterion := range r.Criteria {
		if criterion.ID == id {
			return criterion, true
		}
	}
	return RubricCriterion{}, false
}

// HasLevel reports whether score exactly matches one of the criterion levels.
func (c RubricCriterion) HasLevel(score float64) bool {
	for _, level := range c.Levels {
		if math.Abs(level.Score-score) < gradeEpsilon {
			return true
		}
	}
	return false
}

// Score checks every criterion has a score matching one of its levels and
// returns the total. All offending criteria are reported together.
func (r Rubric) Score(scores map[string]float64) (float64, error) {
	var fields []FieldError
	total := 0.0

	for _, criterion := range r.Criteria {
		score, ok := scores[criterion.ID]
		if !ok {
			fields = append(fields, FieldError{Field: criterion.ID, Error: "no level selected"})
			continue
		}
		if !criterion.HasLevel(score) {
			fields = append(fields, FieldError{Field: criterion.ID, Error: fmt.Sprintf("%g is not a level score", score)})
			continue
		}
		total += score
	}

	unknown := make([]string, 0)
	for id := range scores {
		if _, ok := r.Criterion(id); !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	for _, id := range unknown {
		fields = append(fields, FieldError{Field: id, Error: "unknown criterion"})
	}

	if len(fields) > 0 {
		return 0, NewValidationError(ErrRubricInvalid, fields...)
	}
	return total, nil
}
