package profile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/extmgr-labs/extmgr/internal/extension"
	"github.com/extmgr-labs/extmgr/internal/tags"
	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatVersion is written into every exported document.
const FormatVersion = "1.0.0"

// supportedVersions bounds the version field of imported documents.
const supportedVersions = "^1"

//go:embed schema/profile.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
	structs        = validator.New(validator.WithRequiredStructEnabled())
)

// ErrInvalidDocument is matched by every document rejection.
var ErrInvalidDocument = errors.New("invalid profile document")

// Document is the import/export file format.
type Document struct {
	Version       string              `json:"version,omitempty"`
	Tags          []tags.Tag          `json:"tags" validate:"unique=ID,dive"`
	ExtensionTags []tags.ExtensionTag `json:"extensionTags" validate:"unique=ExtensionID,dive"`
	Extensions    []extension.State   `json:"extensions" validate:"unique=ID,dive"`
}

// Issue is a single reason a document was rejected.
type Issue struct {
	Path    string // instance location, e.g. "/tags/0/id"
	Message string
	Keyword string // failing schema keyword or struct rule
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationError lists every issue found in a rejected document.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidDocument, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidDocument }

func invalid(issues ...Issue) error {
	return &ValidationError{Issues: issues}
}

// getSchema compiles the embedded JSON schema once and returns it.
func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource("profile.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("profile.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// Parse validates raw JSON and decodes it. A rejected document yields an
// error matching ErrInvalidDocument whose *ValidationError lists the issues.
func Parse(data []byte) (*Document, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, invalid(Issue{Message: "not valid JSON: " + err.Error(), Keyword: "json"})
	}
	if err := schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return nil, fmt.Errorf("unexpected validation error type: %w", err)
		}
		return nil, invalid(extractIssues(ve)...)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, invalid(Issue{Message: err.Error(), Keyword: "decode"})
	}

	var issues []Issue
	if err := structs.Struct(doc); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, fmt.Errorf("checking document rules: %w", err)
		}
		for _, fe := range fieldErrs {
			issues = append(issues, Issue{
				Path:    fe.Namespace(),
				Message: printer.Sprintf("failed rule %q", ruleName(fe)),
				Keyword: fe.Tag(),
			})
		}
	}
	if issue, ok := checkVersion(doc.Version); !ok {
		issues = append(issues, issue)
	}
	if len(issues) > 0 {
		return nil, invalid(issues...)
	}
	return &doc, nil
}

func ruleName(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// checkVersion accepts an empty version as a legacy document.
func checkVersion(v string) (Issue, bool) {
	if v == "" {
		return Issue{}, true
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return Issue{Path: "/version", Message: printer.Sprintf("%q is not a semantic version", v), Keyword: "version"}, false
	}
	constraint, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return Issue{Path: "/version", Message: err.Error(), Keyword: "version"}, false
	}
	if !constraint.Check(version) {
		return Issue{
			Path:    "/version",
			Message: printer.Sprintf("version %s is not supported (want %s)", version, supportedVersions),
			Keyword: "version",
		}, false
	}
	return Issue{}, true
}

// extractIssues walks the error tree and returns leaf-level issues.
func extractIssues(ve *jsonschema.ValidationError) []Issue {
	var issues []Issue
	collectIssues(ve, &issues)
	if len(issues) == 0 {
		return []Issue{{Message: ve.Error()}}
	}
	return deduplicate(issues)
}

func collectIssues(ve *jsonschema.ValidationError, issues *[]Issue) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			collectIssues(cause, issues)
		}
		return
	}

	path := ""
	if len(ve.InstanceLocation) > 0 {
		path = "/" + strings.Join(ve.InstanceLocation, "/")
	}
	keyword, msg := "", ""
	if ve.ErrorKind != nil {
		if kw := ve.ErrorKind.KeywordPath(); len(kw) > 0 {
			keyword = kw[len(kw)-1]
		}
		msg = ve.ErrorKind.LocalizedString(printer)
	}
	if keyword == "allOf" || keyword == "$ref" || keyword == "" {
		return
	}
	*issues = append(*issues, Issue{Path: path, Message: msg, Keyword: keyword})
}

func deduplicate(issues []Issue) []Issue {
	seen := make(map[Issue]bool)
	var out []Issue
	for _, issue := range issues {
		if !seen[issue] {
			seen[issue] = true
			out = append(out, issue)
		}
	}
	return out
}
