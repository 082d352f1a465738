package yaml

import (
	"errors"
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

const CurrentSchemaVersion = 1

const (
	FileTypeInboxMessage  = "inbox_message"
	FileTypeStateSnapshot = "state_snapshot"
	FileTypeStateMetrics  = "state_metrics"
)

var (
	// ErrUnsupportedSchema: the file was written by a newer herald that
	// does not declare this version able to read it.
	ErrUnsupportedSchema = errors.New("unsupported schema_version")
	ErrBadHeader         = errors.New("invalid schema header")
)

// SchemaHeader is the common prefix of every herald YAML file. A writer
// that only adds fields sets min_reader_version to the oldest schema that
// can still read the file.
type SchemaHeader struct {
	SchemaVersion    int    `yaml:"schema_version"`
	FileType         string `yaml:"file_type"`
	MinReaderVersion int    `yaml:"min_reader_version,omitempty"`
}

func knownFileType(ft string) bool {
	switch ft {
	case FileTypeInboxMessage, FileTypeStateSnapshot, FileTypeStateMetrics:
		return true
	}
	return false
}

// Readable reports whether a reader at CurrentSchemaVersion may decode a
// file with this header. Unknown fields of newer files are ignored.
func (h SchemaHeader) Readable() bool {
	if h.SchemaVersion <= CurrentSchemaVersion {
		return true
	}
	return h.MinReaderVersion >= 1 && h.MinReaderVersion <= CurrentSchemaVersion
}

// Check validates h against expected; an empty expected accepts any
// known file type.
func (h SchemaHeader) Check(expected string) error {
	switch {
	case h.SchemaVersion < 1:
		return fmt.Errorf("%w: schema_version %d (must be >= 1)", ErrBadHeader, h.SchemaVersion)
	case !h.Readable():
		return fmt.Errorf("%w %d (max supported: %d, min_reader_version: %d)",
			ErrUnsupportedSchema, h.SchemaVersion, CurrentSchemaVersion, h.MinReaderVersion)
	case h.FileType == "":
		return fmt.Errorf("%w: missing file_type", ErrBadHeader)
	case !knownFileType(h.FileType):
		return fmt.Errorf("%w: unknown file_type %q", ErrBadHeader, h.FileType)
	case expected != "" && h.FileType != expected:
		return fmt.Errorf("%w: file_type mismatch: got %q, expected %q", ErrBadHeader, h.FileType, expected)
	}
	return nil
}

func ValidateSchemaHeader(path string, expectedFileType string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return ValidateSchemaHeaderFromBytes(content, expectedFileType)
}

func ValidateSchemaHeaderFromBytes(content []byte, expectedFileType string) error {
	var h SchemaHeader
	if err := yamlv3.Unmarshal(content, &h); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return h.Check(expectedFileType)
}

// Decode validates the header of content and unmarshals it into v.
// Unknown fields are ignored and missing ones keep their zero value.
func Decode(content []byte, expectedFileType string, v any) error {
	if err := ValidateSchemaHeaderFromBytes(content, expectedFileType); err != nil {
		return err
	}
	if err := yamlv3.Unmarshal(content, v); err != nil {
		return fmt.Errorf("decode %s: %w", expectedFileType, err)
	}
	return nil
}

// ReadFile reads path and decodes it with Decode.
func ReadFile(path, expectedFileType string, v any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return Decode(content, expectedFileType, v)
}
