package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	dErrors "attestor/pkg/domainerrors"
)

// RedactedPlaceholder is the fixed replacement for redacted fields.
const RedactedPlaceholder = "[REDACTED]"

// applyTransform produces the replacement value for one matched field.
// remove is signalled by the dropped flag rather than a sentinel value so a
// legitimate nil field value stays representable.
func (e *Engine) applyTransform(ctx context.Context, spec Spec, value any) (out any, dropped bool, err error) {
	switch spec.Type {
	case TypeRedact:
		return spec.paramString("placeholder", RedactedPlaceholder), false, nil

	case TypeMask:
		return maskValue(stringify(value), spec), false, nil

	case TypeHash:
		return hashValue(stringify(value), spec.paramString("salt", "")), false, nil

	case TypeEncrypt:
		ct, err := e.keys.Encrypt(spec.paramString("keyName", ""), stringify(value))
		if err != nil {
			return nil, false, err
		}
		return ct, false, nil

	case TypeTokenize:
		token, err := newToken()
		if err != nil {
			return nil, false, err
		}
		if err := e.vault.Store(ctx, token, stringify(value)); err != nil {
			return nil, false, dErrors.New(dErrors.CodeTransformation, err.Error())
		}
		return token, false, nil

	case TypeGeneralize:
		return generalizeValue(value, spec.paramInt("level", 1)), false, nil

	case TypeRemove:
		return nil, true, nil

	default:
		return nil, false, dErrors.New(dErrors.CodeTransformation,
			fmt.Sprintf("unknown transformation type %q", spec.Type))
	}
}

// maskValue keeps the first visibleChars characters and masks the remainder.
func maskValue(s string, spec Spec) string {
	visible := spec.paramInt("visibleChars", 0)
	maskChar := spec.paramString("maskChar", "*")
	runes := []rune(s)
	if visible >= len(runes) {
		return s
	}
	if visible < 0 {
		visible = 0
	}
	return string(runes[:visible]) + strings.Repeat(maskChar, len(runes)-visible)
}

// hashValue is a one-way salted digest; irreversible by construction.
func hashValue(s, salt string) string {
	sum := sha256.Sum256([]byte(salt + s))
	return hex.EncodeToString(sum[:])
}

// generalizeValue reduces precision. Numbers round to the nearest 10^level;
// comma-separated strings (locations, hierarchies) drop their `level` most
// specific leading components.
func generalizeValue(value any, level int) any {
	if level < 1 {
		level = 1
	}
	if f, ok := asFloat(value); ok {
		unit := math.Pow10(level)
		return math.Round(f/unit) * unit
	}
	s, ok := value.(string)
	if !ok {
		return value
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if level >= len(parts) {
		return parts[len(parts)-1]
	}
	return strings.Join(parts[level:], ", ")
}

// stringify renders any scalar into the string form the string-oriented
// transforms operate on.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
