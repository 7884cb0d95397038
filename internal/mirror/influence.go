package mirror

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Mode sets of an influence table.
const (
	SetThermal    = "thermal"
	SetMechanical = "mechanical"
	SetOther      = "other"
)

type Term struct {
	Noll        int
	Coefficient float64
}

// InfluenceMode is one measured segment deformation, expressed as a sum of
// local Zernike terms.
type InfluenceMode struct {
	Set   string
	Name  string
	Terms []Term
}

type InfluenceTable struct {
	Modes []InfluenceMode
}

// LoadInfluenceTable reads a CSV table with the header
// set,mode,noll,coefficient. Rows sharing set and mode accumulate terms;
// modes keep the order of their first row.
func LoadInfluenceTable(path string) (*InfluenceTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadInfluenceTable(f)
}

func ReadInfluenceTable(r io.Reader) (*InfluenceTable, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrBadTable)
		}
		return nil, err
	}
	want := []string{"set", "mode", "noll", "coefficient"}
	if len(header) != len(want) {
		return nil, fmt.Errorf("%w: header %v", ErrBadTable, header)
	}
	for i := range want {
		if strings.ToLower(strings.TrimSpace(header[i])) != want[i] {
			return nil, fmt.Errorf("%w: header %v", ErrBadTable, header)
		}
	}

	table := &InfluenceTable{}
	pos := make(map[string]int)
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		set := strings.ToLower(strings.TrimSpace(rec[0]))
		name := strings.TrimSpace(rec[1])
		if set == "" || name == "" {
			return nil, fmt.Errorf("%w: line %d: empty set or mode", ErrBadTable, line)
		}
		noll, err := strconv.Atoi(strings.TrimSpace(rec[2]))
		if err != nil || noll < 1 {
			return nil, fmt.Errorf("%w: line %d: noll index %q", ErrBadTable, line, rec[2])
		}
		coef, err := strconv.ParseFloat(strings.TrimSpace(rec[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: coefficient %q", ErrBadTable, line, rec[3])
		}

		key := set + "/" + name
		i, ok := pos[key]
		if !ok {
			i = len(table.Modes)
			pos[key] = i
			table.Modes = append(table.Modes, InfluenceMode{Set: set, Name: name})
		}
		table.Modes[i].Terms = append(table.Modes[i].Terms, Term{Noll: noll, Coefficient: coef})
	}

	if len(table.Modes) == 0 {
		return nil, fmt.Errorf("%w: no modes", ErrBadTable)
	}
	return table, nil
}

// Filter keeps the modes whose set is listed. An empty list keeps all.
func (t *InfluenceTable) Filter(sets ...string) *InfluenceTable {
	if len(sets) == 0 {
		return t
	}
	out := &InfluenceTable{}
	for _, m := range t.Modes {
		if slices.Contains(sets, m.Set) {
			out.Modes = append(out.Modes, m)
		}
	}
	return out
}
