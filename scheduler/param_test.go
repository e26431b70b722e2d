package scheduler

import "testing"

func TestNewParamValid(t *testing.T) {
	p, err := NewParam("JPN", "default", "default", "none", "M")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TargetLanguage != LangJPN {
		t.Errorf("target language = %v, want %v", p.TargetLanguage, LangJPN)
	}
	// JPN defaults direction to auto per ResolveDirection.
	if p.Direction != DirectionAuto {
		t.Errorf("direction = %v, want %v", p.Direction, DirectionAuto)
	}
}

func TestNewParamInvalidFields(t *testing.T) {
	cases := []struct {
		name                                                  string
		lang, detector, direction, translator, size           string
	}{
		{"bad language", "XXX", "default", "default", "none", "M"},
		{"bad detector", "ENG", "nope", "default", "none", "M"},
		{"bad direction", "ENG", "default", "sideways", "none", "M"},
		{"bad translator", "ENG", "default", "default", "nope", "M"},
		{"bad size", "ENG", "default", "default", "none", "XXL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewParam(tc.lang, tc.detector, tc.direction, tc.translator, tc.size); err == nil {
				t.Errorf("expected error for %+v", tc)
			}
		})
	}
}

func TestParseDirectionAliases(t *testing.T) {
	cases := map[string]Direction{
		"horizontal": DirectionHorizontal,
		"vertical":   DirectionVertical,
		"default":    DirectionDefault,
		"auto":       DirectionAuto,
		"h":          DirectionHorizontal,
		"v":          DirectionVertical,
	}
	for in, want := range cases {
		got, err := ParseDirection(in)
		if err != nil {
			t.Fatalf("ParseDirection(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseDirection(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseDirection("diagonal"); err == nil {
		t.Error("expected error for unknown direction")
	}
}

func TestResolveDirectionDefaulting(t *testing.T) {
	cases := []struct {
		lang Language
		want Direction
	}{
		{LangCHS, DirectionAuto},
		{LangCHT, DirectionAuto},
		{LangJPN, DirectionAuto},
		{LangKOR, DirectionAuto},
		{LangENG, DirectionHorizontal},
		{LangFRA, DirectionHorizontal},
	}
	for _, tc := range cases {
		got := ResolveDirection(DirectionDefault, tc.lang)
		if got != tc.want {
			t.Errorf("ResolveDirection(default, %v) = %v, want %v", tc.lang, got, tc.want)
		}
	}

	// A non-default direction always passes through untouched.
	if got := ResolveDirection(DirectionVertical, LangENG); got != DirectionVertical {
		t.Errorf("ResolveDirection should not override an explicit direction, got %v", got)
	}
}
