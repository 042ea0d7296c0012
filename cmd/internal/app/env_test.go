package app

import (
	"reflect"
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("TV_TEST_STR", "  padded  ")
	if got := EnvString("TV_TEST_STR", "def"); got != "padded" {
		t.Fatalf("got=%q want=padded", got)
	}
	t.Setenv("TV_TEST_STR", "   ")
	if got := EnvString("TV_TEST_STR", "def"); got != "def" {
		t.Fatalf("blank value must fall back, got=%q", got)
	}
}

func TestEnvBool(t *testing.T) {
	cases := []struct {
		val  string
		def  bool
		want bool
	}{
		{val: "1", def: false, want: true},
		{val: "false", def: true, want: false},
		{val: "TRUE", def: false, want: true},
		{val: "yes", def: false, want: false}, // not a strconv form
		{val: "", def: true, want: true},
	}
	for _, tc := range cases {
		t.Setenv("TV_TEST_BOOL", tc.val)
		if got := EnvBool("TV_TEST_BOOL", tc.def); got != tc.want {
			t.Errorf("EnvBool(%q, %v)=%v want=%v", tc.val, tc.def, got, tc.want)
		}
	}
}

func TestEnvIntRejectsNonPositive(t *testing.T) {
	cases := map[string]int{
		"42":   42,
		"0":    7,
		"-3":   7,
		"nope": 7,
		"":     7,
	}
	for val, want := range cases {
		t.Setenv("TV_TEST_INT", val)
		if got := EnvInt("TV_TEST_INT", 7); got != want {
			t.Errorf("EnvInt(%q)=%d want=%d", val, got, want)
		}
	}
}

func TestEnvInt32AllowsZero(t *testing.T) {
	t.Setenv("TV_TEST_I32", "0")
	if got := EnvInt32("TV_TEST_I32", 8); got != 0 {
		t.Fatalf("zero is a valid int32 value, got=%d", got)
	}
	t.Setenv("TV_TEST_I32", "-1")
	if got := EnvInt32("TV_TEST_I32", 8); got != 8 {
		t.Fatalf("negative must fall back, got=%d", got)
	}
	t.Setenv("TV_TEST_I32", "2147483648") // one past MaxInt32
	if got := EnvInt32("TV_TEST_I32", 8); got != 8 {
		t.Fatalf("overflow must fall back, got=%d", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TV_TEST_DUR", "90s")
	if got := EnvDuration("TV_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("got=%v want=90s", got)
	}
	for _, bad := range []string{"-5s", "0s", "ninety", ""} {
		t.Setenv("TV_TEST_DUR", bad)
		if got := EnvDuration("TV_TEST_DUR", time.Second); got != time.Second {
			t.Fatalf("EnvDuration(%q)=%v want fallback 1s", bad, got)
		}
	}
}

func TestEnvCSV(t *testing.T) {
	t.Setenv("TV_TEST_CSV", " a, ,b ,, c ")
	got := EnvCSV("TV_TEST_CSV")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}

	t.Setenv("TV_TEST_CSV", "")
	if got := EnvCSV("TV_TEST_CSV"); got != nil {
		t.Fatalf("unset var must yield nil, got=%v", got)
	}
}
