package channel

import "testing"

func TestToFrequency(t *testing.T) {
	cases := map[int]int{37: 2402, 0: 2404, 39: 2480, 10: 2424, 11: 2428, 36: 2478, 38: 2426}
	for ch, want := range cases {
		got, err := ToFrequency(ch)
		if err != nil {
			t.Fatalf("ToFrequency(%d): %v", ch, err)
		}
		if got != want {
			t.Errorf("ToFrequency(%d) = %d, want %d", ch, got, want)
		}
	}
}

func TestToFrequencyInvalid(t *testing.T) {
	if _, err := ToFrequency(42); err == nil {
		t.Error("ToFrequency(42) should fail")
	}
	if _, err := ToFrequency(-1); err == nil {
		t.Error("ToFrequency(-1) should fail")
	}
}

func TestFrequencyRoundTrip(t *testing.T) {
	for ch := 0; ch <= 39; ch++ {
		freq, err := ToFrequency(ch)
		if err != nil {
			t.Fatalf("ToFrequency(%d): %v", ch, err)
		}
		back, err := FromFrequency(freq)
		if err != nil {
			t.Fatalf("FromFrequency(%d): %v", freq, err)
		}
		if back != ch {
			t.Errorf("round-trip channel %d -> freq %d -> channel %d", ch, freq, back)
		}
	}
}
