package handlers

import (
	"fmt"
	"strconv"
	"strings"

	"pin-ad-studio/internal/compositor"
)

// captionOptions is what a user can put in a photo caption or after
// /placement: either "x=100 y=0 scale=1.2" (any subset, any order) or three
// leading numbers "100 0 1.2". Remaining words become the product hint.
type captionOptions struct {
	Placement    compositor.Placement
	HasPlacement bool
	Product      string
}

func parseCaption(text string, base compositor.Placement) (captionOptions, error) {
	out := captionOptions{Placement: base}
	fields := strings.Fields(text)

	if len(fields) > 0 && isNumber(fields[0]) {
		if len(fields) < 3 {
			return out, fmt.Errorf("expected <x> <y> <scale>, got %q", strings.Join(fields, " "))
		}
		p, err := positional(fields[:3])
		if err != nil {
			return out, err
		}
		out.Placement = p
		out.HasPlacement = true
		fields = fields[3:]
	}

	var rest []string
	for _, f := range fields {
		key, value, ok := splitKeyValue(f)
		if !ok {
			rest = append(rest, f)
			continue
		}

		switch key {
		case "x":
			v, err := strconv.Atoi(value)
			if err != nil {
				return out, fmt.Errorf("x must be an integer, got %q", value)
			}
			out.Placement.X = v
		case "y":
			v, err := strconv.Atoi(value)
			if err != nil {
				return out, fmt.Errorf("y must be an integer, got %q", value)
			}
			out.Placement.Y = v
		case "scale", "s":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return out, fmt.Errorf("scale must be a number, got %q", value)
			}
			out.Placement.Scale = v
		default:
			rest = append(rest, f)
			continue
		}
		out.HasPlacement = true
	}

	out.Product = strings.Join(rest, " ")
	return out, nil
}

func positional(fields []string) (compositor.Placement, error) {
	x, err := strconv.Atoi(fields[0])
	if err != nil {
		return compositor.Placement{}, fmt.Errorf("x must be an integer, got %q", fields[0])
	}
	y, err := strconv.Atoi(fields[1])
	if err != nil {
		return compositor.Placement{}, fmt.Errorf("y must be an integer, got %q", fields[1])
	}
	scale, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return compositor.Placement{}, fmt.Errorf("scale must be a number, got %q", fields[2])
	}
	return compositor.Placement{X: x, Y: y, Scale: scale}, nil
}

func splitKeyValue(field string) (string, string, bool) {
	idx := strings.IndexAny(field, "=:")
	if idx <= 0 || idx == len(field)-1 {
		return "", "", false
	}
	return strings.ToLower(field[:idx]), field[idx+1:], true
}

func isNumber(s string) bool {
	if s == "" || !strings.ContainsAny(s[:1], "0123456789+-.") {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// checkPlacement applies the same rules the pipeline enforces, so settings
// commands can reject a bad value right away.
func checkPlacement(p compositor.Placement, minScale float64) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if minScale > 0 && p.Scale < minScale {
		return &compositor.InvalidParameterError{
			Param:  "scale",
			Value:  p.Scale,
			Reason: fmt.Sprintf("must be at least %g", minScale),
		}
	}
	return nil
}

func formatPlacement(p compositor.Placement) string {
	return fmt.Sprintf("x=%d y=%d scale=%g", p.X, p.Y, p.Scale)
}
