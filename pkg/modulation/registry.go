package modulation

import (
	"fmt"
	"sort"
)

// KindSpectrumPaint is the decorative waterfall modulation. The paint
// pre-pass is skipped when a challenge already uses it as its primary
// modulation.
const KindSpectrumPaint = "spectrum_paint"

// builtinTools maps well-known modulation kinds to the wrapper binary
// invoked for them. Every wrapper accepts the same argument convention
// (see argv). Operators override or extend this table through the
// tools map in the agent config.
var builtinTools = map[string]string{
	"cw":             "challengectl-tx-cw",
	"ook":            "challengectl-tx-ook",
	"fsk":            "challengectl-tx-fsk",
	"gfsk":           "challengectl-tx-gfsk",
	"nbfm":           "challengectl-tx-nbfm",
	"ssb":            "challengectl-tx-ssb",
	"lora":           "challengectl-tx-lora",
	"pocsag":         "challengectl-tx-pocsag",
	"sstv":           "challengectl-tx-sstv",
	"replay":         "challengectl-tx-replay",
	"spectrum_paint": "challengectl-paint",
}

// Kinds returns the built-in modulation kinds in sorted order
func Kinds() []string {
	kinds := make([]string, 0, len(builtinTools))
	for k := range builtinTools {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// resolveTool returns the binary to invoke for a modulation kind.
// Overrides win over the built-in table, so an agent config can both
// repoint a known kind and introduce kinds this package has never
// heard of.
func resolveTool(kind string, overrides map[string]string) (string, error) {
	if tool, ok := overrides[kind]; ok && tool != "" {
		return tool, nil
	}
	if tool, ok := builtinTools[kind]; ok {
		return tool, nil
	}
	return "", fmt.Errorf("no tool configured for modulation %q", kind)
}
