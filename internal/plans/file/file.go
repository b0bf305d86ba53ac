// Package file stores allocation plans as JSON or TOML files in a directory.
//
// A JSON plan is an array of entries:
//
//	[{"name": "沪深300ETF", "percentage": 0.4, "id": "510300"}]
//
// A TOML plan uses an array of tables:
//
//	[[entries]]
//	name = "沪深300ETF"
//	percentage = 0.4
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"allocator/internal/core"
	"allocator/internal/log"
	"allocator/internal/plans"
)

const (
	extJSON = ".json"
	extTOML = ".toml"
)

var (
	ErrInvalidName  = errors.New("invalid plan name")
	ErrMissingField = errors.New("missing required field")
	ErrNotAnArray   = errors.New("plan must be a JSON array")
)

// Ensure interface conformance
var (
	_ plans.PlanReader = (*Store)(nil)
	_ plans.PlanLister = (*Store)(nil)
	_ plans.PlanWriter = (*Store)(nil)
)

type Store struct {
	dir    string
	logger *log.Logger
}

func New(dir string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{dir: dir, logger: logger.WithComponent(log.ComponentPlans)}
}

// Dir returns the directory the store reads from.
func (s *Store) Dir() string { return s.dir }

// LoadPlan resolves name to "<name>.json" or "<name>.toml" inside the store
// directory. A name that already carries an extension is used as is.
func (s *Store) LoadPlan(ctx context.Context, name string) (core.Plan, error) {
	candidates, err := s.candidates(name)
	if err != nil {
		return nil, err
	}
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		plan, err := LoadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.logger.DebugContext(ctx, "Plan loaded from file", log.FieldPlan, name, "path", path, log.FieldEntries, len(plan))
		return plan, nil
	}
	return nil, fmt.Errorf("%w: %s", plans.ErrPlanNotFound, name)
}

// ListPlans returns the base names of every plan file in the directory.
func (s *Store) ListPlans(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read plan directory %s: %w", s.dir, err)
	}
	seen := map[string]struct{}{}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != extJSON && ext != extTOML {
			continue
		}
		name := plans.NormalizeName(e.Name())
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// SavePlan writes the plan as JSON unless name ends in ".toml". The file is
// written to a temporary path first and renamed into place.
func (s *Store) SavePlan(ctx context.Context, name string, plan core.Plan) error {
	if err := core.ValidateEntries(plan); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	base, err := checkName(name)
	if err != nil {
		return err
	}
	ext := extJSON
	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(name)), extTOML) {
		ext = extTOML
	}

	var buf bytes.Buffer
	if ext == extTOML {
		err = EncodeTOML(&buf, plan)
	} else {
		err = EncodeJSON(&buf, plan)
	}
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, base+ext)
	tmp, err := os.CreateTemp(s.dir, "."+base+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	s.logger.InfoContext(ctx, "Plan saved", log.FieldPlan, base, "path", path, log.FieldEntries, len(plan))
	return nil
}

// DeletePlan removes every file LoadPlan would resolve name to.
func (s *Store) DeletePlan(ctx context.Context, name string) error {
	candidates, err := s.candidates(name)
	if err != nil {
		return err
	}
	removed := 0
	for _, path := range candidates {
		err := os.Remove(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("remove %s: %w", path, err)
		}
		removed++
		s.logger.InfoContext(ctx, "Plan file removed", log.FieldPlan, name, "path", path)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", plans.ErrPlanNotFound, name)
	}
	return nil
}

func (s *Store) candidates(name string) ([]string, error) {
	base, err := checkName(name)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(name)
	if base != trimmed {
		return []string{filepath.Join(s.dir, trimmed)}, nil
	}
	return []string{
		filepath.Join(s.dir, base+extJSON),
		filepath.Join(s.dir, base+extTOML),
	}, nil
}

func checkName(name string) (string, error) {
	base := plans.NormalizeName(name)
	if base == "" || base == "." || base == ".." || strings.ContainsAny(base, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return base, nil
}

// LoadFile parses a single plan file. A ".toml" file is read as TOML and
// anything else as JSON.
func LoadFile(path string) (core.Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var plan core.Plan
	if strings.EqualFold(filepath.Ext(path), extTOML) {
		plan, err = ParseTOML(f)
	} else {
		plan, err = ParseJSON(f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return plan, nil
}

// rawEntry distinguishes an absent field from a zero value.
type rawEntry struct {
	Name       *string  `json:"name" toml:"name"`
	Percentage *float64 `json:"percentage" toml:"percentage"`
	ID         string   `json:"id" toml:"id"`
	Memo       string   `json:"memo" toml:"memo"`
}

func (r rawEntry) toEntry(i int) (core.Entry, error) {
	if r.Name == nil {
		return core.Entry{}, fmt.Errorf("entry %d: %w: name", i, ErrMissingField)
	}
	if r.Percentage == nil {
		return core.Entry{}, fmt.Errorf("entry %d: %w: percentage", i, ErrMissingField)
	}
	e := core.Entry{
		Name:       strings.TrimSpace(*r.Name),
		Percentage: *r.Percentage,
		ID:         strings.TrimSpace(r.ID),
		Memo:       strings.TrimSpace(r.Memo),
	}
	if err := e.Validate(); err != nil {
		return core.Entry{}, fmt.Errorf("entry %d (%q): %w", i, e.Name, err)
	}
	return e, nil
}

func toPlan(raw []rawEntry) (core.Plan, error) {
	plan := make(core.Plan, 0, len(raw))
	for i, r := range raw {
		e, err := r.toEntry(i)
		if err != nil {
			return nil, err
		}
		plan = append(plan, e)
	}
	return plan, nil
}

// ParseJSON reads a JSON array of entries.
func ParseJSON(r io.Reader) (core.Plan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotAnArray
	}
	var raw []rawEntry
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, err
	}
	return toPlan(raw)
}

// ParseTOML reads a document made of [[entries]] tables.
func ParseTOML(r io.Reader) (core.Plan, error) {
	var doc struct {
		Entries []rawEntry `toml:"entries"`
	}
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	return toPlan(doc.Entries)
}

// EncodeJSON writes the plan in the array form ParseJSON accepts.
func EncodeJSON(w io.Writer, plan core.Plan) error {
	if plan == nil {
		plan = core.Plan{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(plan)
}

// EncodeTOML writes the plan as [[entries]] tables.
func EncodeTOML(w io.Writer, plan core.Plan) error {
	doc := struct {
		Entries []core.Entry `toml:"entries"`
	}{Entries: plan}
	return toml.NewEncoder(w).Encode(doc)
}
