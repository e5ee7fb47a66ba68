// Package provenance records the files each pipeline stage declares as its
// inputs and outputs. Declarations are metadata only: the store never opens
// or checks the files it is told about.
package provenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateName is returned when a symbolic name is declared twice in the
// same direction for the same stage.
var ErrDuplicateName = errors.New("duplicate symbolic name")

// Direction tells inputs from outputs.
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// Record is one declared stage file.
type Record struct {
	Stage     string
	Direction Direction
	Directory string
	Filename  string
	Name      string
}

// Store receives stage declarations.
type Store interface {
	AddStageInput(ctx context.Context, stage, directory, filename, name string) error
	AddStageOutput(ctx context.Context, stage, directory, filename, name string) error
}

// Lister can enumerate what was declared.
type Lister interface {
	Records(ctx context.Context, stage string) ([]Record, error)
}

// MemoryStore keeps declarations in memory.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) add(r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.records {
		if existing.Stage == r.Stage && existing.Direction == r.Direction && existing.Name == r.Name {
			return fmt.Errorf("%w: stage %s %s %q", ErrDuplicateName, r.Stage, r.Direction, r.Name)
		}
	}
	m.records = append(m.records, r)
	return nil
}

// AddStageInput declares an input file of stage.
func (m *MemoryStore) AddStageInput(_ context.Context, stage, directory, filename, name string) error {
	return m.add(Record{Stage: stage, Direction: Input, Directory: directory, Filename: filename, Name: name})
}

// AddStageOutput declares an output file of stage.
func (m *MemoryStore) AddStageOutput(_ context.Context, stage, directory, filename, name string) error {
	return m.add(Record{Stage: stage, Direction: Output, Directory: directory, Filename: filename, Name: name})
}

// Records returns the declarations of stage in declaration order; an empty
// stage returns everything.
func (m *MemoryStore) Records(_ context.Context, stage string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, r := range m.records {
		if stage == "" || r.Stage == stage {
			out = append(out, r)
		}
	}
	return out, nil
}

// Inputs returns the input declarations of stage.
func (m *MemoryStore) Inputs(stage string) []Record {
	return m.filter(stage, Input)
}

// Outputs returns the output declarations of stage.
func (m *MemoryStore) Outputs(stage string) []Record {
	return m.filter(stage, Output)
}

func (m *MemoryStore) filter(stage string, dir Direction) []Record {
	recs, _ := m.Records(context.Background(), stage)
	var out []Record
	for _, r := range recs {
		if r.Direction == dir {
			out = append(out, r)
		}
	}
	return out
}

// Filenames returns the file names of recs, sorted.
func Filenames(recs []Record) []string {
	names := make([]string, len(recs))
	for i, r := range recs {
		names[i] = r.Filename
	}
	sort.Strings(names)
	return names
}
