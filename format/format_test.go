package format

import (
	"testing"
)

func TestHumanNumber(t *testing.T) {
	type testCase struct {
		input    uint64
		expected string
	}

	testCases := []testCase{
		{0, "0"},
		{100, "100"},
		{1000, "1.00K"},
		{15867885, "15.9M"},
		{26000000, "26.0M"},
		{206000000, "206M"},
		{1000000000, "1.00B"},
		{26000000000, "26.0B"},
		{1000000000000, "1.00T"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := HumanNumber(tc.input)
			if result != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, result)
			}
		})
	}
}

func TestShape(t *testing.T) {
	type testCase struct {
		input    []int
		expected string
	}

	testCases := []testCase{
		{nil, "-"},
		{[]int{125}, "125"},
		{[]int{1, 3, 416, 416}, "1x3x416x416"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := Shape(tc.input)
			if result != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, result)
			}
		})
	}
}
