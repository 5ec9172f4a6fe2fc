package server

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rpattn/batchwatch/internal/ingestion"
)

func TestIsClientError(t *testing.T) {
	clientErrs := []error{
		ingestion.ErrUnsupportedFormat,
		ingestion.ErrNoColumns,
		ingestion.ErrNoDataRows,
		ingestion.ErrEmptyFile,
		ingestion.ErrNoFileName,
		fmt.Errorf("%w: .txt", ingestion.ErrUnsupportedFormat),
	}
	for _, err := range clientErrs {
		if !isClientError(err) {
			t.Errorf("%v should map to a 400-class response", err)
		}
	}

	serverErrs := []error{
		errors.New("connection refused"),
		fmt.Errorf("failed to create table for upload: %w", errors.New("permission denied")),
	}
	for _, err := range serverErrs {
		if isClientError(err) {
			t.Errorf("%v should map to a 500-class response", err)
		}
	}
}
