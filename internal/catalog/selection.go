package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/brensch/setfetch/internal/config"
)

// ParseSelection turns operator input such as "1, 3,4" into 1-based ordinals.
// Blank input selects every set. Ordinals outside [1, numSets] are rejected.
func ParseSelection(input string, numSets int) ([]int, error) {
	input = strings.ReplaceAll(input, " ", "")
	input = strings.TrimSpace(input)
	if input == "" {
		all := make([]int, numSets)
		for i := range all {
			all[i] = i + 1
		}
		return all, nil
	}

	seen := make(map[int]bool)
	var ordinals []int
	for _, tok := range strings.Split(input, ",") {
		if tok == "" {
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, &config.ConfigError{Field: "selection", Err: fmt.Errorf("%q is not a set number", tok)}
		}
		if n < 1 || n > numSets {
			return nil, &config.ConfigError{Field: "selection", Err: fmt.Errorf("set number %d out of range [1, %d]", n, numSets)}
		}
		if !seen[n] {
			seen[n] = true
			ordinals = append(ordinals, n)
		}
	}
	if len(ordinals) == 0 {
		return nil, &config.ConfigError{Field: "selection", Err: fmt.Errorf("no set numbers in %q", input)}
	}
	return ordinals, nil
}

// Resolve maps ordinals to set names in catalog order, whatever order they were entered in.
func (c *Catalog) Resolve(ordinals []int) ([]string, error) {
	picked := make(map[int]bool, len(ordinals))
	for _, n := range ordinals {
		if n < 1 || n > len(c.sets) {
			return nil, &config.ConfigError{Field: "selection", Err: fmt.Errorf("set number %d out of range [1, %d]", n, len(c.sets))}
		}
		picked[n-1] = true
	}
	idx := make([]int, 0, len(picked))
	for i := range picked {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	names := make([]string, len(idx))
	for i, j := range idx {
		names[i] = c.sets[j].Name
	}
	return names, nil
}
