// ABOUTME: Validation/retry loop wrapping every model call with schema and external verification.
// ABOUTME: Failed attempts append a corrective turn to the conversation and retry up to maxRetries calls.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389-research/stampede/llm"
)

// Validated is a validator's accepted result: the structured data extracted
// from the reply and the content to write as the step's result.
type Validated struct {
	Data    any
	Content string
}

// Validator inspects a raw model reply. It returns the validated result or a
// *ValidationError describing what to correct; any other error aborts the
// loop immediately.
type Validator func(response string) (*Validated, error)

// attemptRecord captures one failed attempt for diagnostics.
type attemptRecord struct {
	attempt int
	kind    ValidationKind
	detail  string
}

// ValidatedReply is the outcome of a successful validation loop: the
// validator's result, the raw reply it accepted, and the conversation as
// sent on the accepting attempt.
type ValidatedReply struct {
	Data         any
	Content      string
	Raw          string
	Conversation []llm.Message
}

// RunValidated calls the model, validates the reply, and on validation
// failure appends the raw reply plus a corrective user turn and retries.
// maxRetries is the total number of model calls allowed; when they are
// exhausted a *RetriesExhaustedError terminates the branch.
func RunValidated(ctx context.Context, caller ModelCaller, msgs []llm.Message, validator Validator, maxRetries int) (*ValidatedReply, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if validator == nil {
		validator = PassthroughValidator
	}

	conversation := append([]llm.Message{}, msgs...)
	var attempts []attemptRecord
	var lastValidation *ValidationError

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reply, err := caller.PromptText(ctx, conversation)
		if err != nil {
			return nil, fmt.Errorf("model call (attempt %d): %w", attempt, err)
		}

		result, err := validator(reply)
		if err == nil {
			return &ValidatedReply{
				Data:         result.Data,
				Content:      result.Content,
				Raw:          reply,
				Conversation: conversation,
			}, nil
		}

		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			return nil, fmt.Errorf("validator (attempt %d): %w", attempt, err)
		}

		lastValidation = vErr
		attempts = append(attempts, attemptRecord{attempt: attempt, kind: vErr.Kind, detail: vErr.Detail})

		if attempt < maxRetries {
			conversation = append(conversation,
				llm.AssistantMessage(reply),
				llm.UserMessage(correctiveMessage(vErr)),
			)
		}
	}

	return nil, &RetriesExhaustedError{
		EngineError: EngineError{
			Message: fmt.Sprintf("validation failed after %d attempt(s)", len(attempts)),
			Cause:   lastValidation,
		},
		Attempts: len(attempts),
		Last:     lastValidation,
	}
}

// correctiveMessage renders a structured error description the model can act
// on in the next attempt.
func correctiveMessage(vErr *ValidationError) string {
	var sb strings.Builder
	switch vErr.Kind {
	case ValidationJSONParse:
		sb.WriteString("Your previous reply was not valid JSON.")
	default:
		sb.WriteString("Your previous reply failed validation.")
	}
	if vErr.Detail != "" {
		sb.WriteString("\n\nError detail:\n")
		sb.WriteString(vErr.Detail)
	}
	sb.WriteString("\n\nPlease correct the problem and reply again, following the original instructions exactly.")
	return sb.String()
}

// PassthroughValidator accepts any reply verbatim.
func PassthroughValidator(response string) (*Validated, error) {
	return &Validated{Data: response, Content: response}, nil
}

// SchemaValidator returns a Validator that parses the reply as JSON and
// checks it against the resolved schema. Markdown code fences around the
// JSON are tolerated.
func SchemaValidator(schema *jsonschema.Resolved) Validator {
	return func(response string) (*Validated, error) {
		cleaned := llm.ExtractJSON(response)
		var parsed any
		if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
			return nil, NewValidationError(ValidationJSONParse, err.Error())
		}
		if schema != nil {
			if err := schema.Validate(parsed); err != nil {
				return nil, NewValidationError(ValidationCustom, fmt.Sprintf("reply does not match the required schema: %v", err))
			}
		}
		return &Validated{Data: parsed, Content: cleaned}, nil
	}
}

// VerifyCommandValidator returns a Validator that pipes the reply to an
// external command's stdin. A non-zero exit rejects the reply; the command's
// combined output is folded into the corrective message so the model can
// self-correct.
func VerifyCommandValidator(command, workDir string) Validator {
	return func(response string) (*Validated, error) {
		cmd := exec.Command("sh", "-c", command)
		cmd.Dir = workDir
		cmd.Stdin = strings.NewReader(response)
		var output bytes.Buffer
		cmd.Stdout = &output
		cmd.Stderr = &output
		if err := cmd.Run(); err != nil {
			detail := strings.TrimSpace(output.String())
			if detail == "" {
				detail = err.Error()
			}
			return nil, NewValidationError(ValidationCustom, fmt.Sprintf("verification command rejected the reply:\n%s", detail))
		}
		return &Validated{Data: response, Content: response}, nil
	}
}

// validatorForStep builds the validation pipeline a step declares: schema
// validation, then the external verify command when configured.
func validatorForStep(def *StepDefinition, workDir string) Validator {
	var validators []Validator
	if def.Schema != nil {
		validators = append(validators, SchemaValidator(def.Schema))
	}
	if def.VerifyCommand != "" {
		validators = append(validators, VerifyCommandValidator(def.VerifyCommand, workDir))
	}
	switch len(validators) {
	case 0:
		return PassthroughValidator
	case 1:
		return validators[0]
	default:
		return chainSchemaAndVerify(def.Schema, def.VerifyCommand, workDir)
	}
}

// chainSchemaAndVerify validates schema first, then the verify command, but
// returns the schema's parsed data as the result.
func chainSchemaAndVerify(schema *jsonschema.Resolved, command, workDir string) Validator {
	schemaV := SchemaValidator(schema)
	verifyV := VerifyCommandValidator(command, workDir)
	return func(response string) (*Validated, error) {
		parsed, err := schemaV(response)
		if err != nil {
			return nil, err
		}
		if _, err := verifyV(response); err != nil {
			return nil, err
		}
		return parsed, nil
	}
}
