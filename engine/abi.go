package engine

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/ktx2-transcoder/backend"
	"github.com/wippyai/ktx2-transcoder/errors"
)

// coreType returns the core value type a WIT primitive lowers to.
// Only primitives appear in the backend ABI.
func coreType(t wit.Type) (api.ValueType, error) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return api.ValueTypeI32, nil
	case wit.U64, wit.S64:
		return api.ValueTypeI64, nil
	case wit.F32:
		return api.ValueTypeF32, nil
	case wit.F64:
		return api.ValueTypeF64, nil
	default:
		return 0, fmt.Errorf("type %T has no single core representation", t)
	}
}

func coreTypes(types []wit.Type) ([]api.ValueType, error) {
	out := make([]api.ValueType, 0, len(types))
	for _, t := range types {
		vt, err := coreType(t)
		if err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, nil
}

func formatTypes(params, results []api.ValueType) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(p))
	}
	b.WriteString(") -> (")
	for i, r := range results {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(api.ValueTypeName(r))
	}
	b.WriteByte(')')
	return b.String()
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// checkExport verifies that def has the lowered signature of sig.
func checkExport(name string, def api.FunctionDefinition, sig backend.Signature) error {
	wantParams, err := coreTypes(sig.Params)
	if err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindSignatureMismatch, err, name)
	}
	wantResults, err := coreTypes(sig.Results)
	if err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindSignatureMismatch, err, name)
	}

	gotParams, gotResults := def.ParamTypes(), def.ResultTypes()
	if !sameTypes(wantParams, gotParams) || !sameTypes(wantResults, gotResults) {
		return errors.SignatureMismatch(name,
			formatTypes(wantParams, wantResults),
			formatTypes(gotParams, gotResults))
	}
	return nil
}
