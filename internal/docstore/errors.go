package docstore

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNoTransaction is returned when committing or aborting without an
	// open transaction.
	ErrNoTransaction = errors.New("docstore: no transaction in progress")

	// ErrTransactionInProgress is returned when starting a second
	// transaction on the same session.
	ErrTransactionInProgress = errors.New("docstore: transaction already in progress")

	// ErrSessionEnded is returned for operations on an ended session.
	ErrSessionEnded = errors.New("docstore: session ended")

	// ErrInvalidCollection is returned for collection names that are not
	// safe identifiers.
	ErrInvalidCollection = errors.New("docstore: invalid collection name")

	// ErrEmptyID is returned when a document without ID is upserted.
	ErrEmptyID = errors.New("docstore: document has empty id")
)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateCollectionName rejects names that cannot be used verbatim as a
// table or collection identifier.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// ValidateDocuments checks every document carries an ID.
func ValidateDocuments(collection string, docs []Document) error {
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("%w: %s[%d]", ErrEmptyID, collection, i)
		}
	}
	return nil
}
