package wheel

import "testing"

func TestIsExtensionRecognizesPlatformTaggedNames(t *testing.T) {
	cases := map[string]bool{
		"_speedups.cpython-311-x86_64-linux-gnu.so": true,
		"_speedups.so":                              true,
		"libfoo.so.1":                                false,
		"README.txt":                                false,
	}
	for name, want := range cases {
		if got := isExtension(name); got != want {
			t.Errorf("isExtension(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIsBundledLibraryRecognizesSonameSuffixes(t *testing.T) {
	cases := map[string]bool{
		"libfoo.so":         true,
		"libfoo.so.1":       true,
		"libfoo.so.1.2.3":   true,
		"_speedups.so":      false,
		"notashared.txt":    false,
	}
	for name, want := range cases {
		if got := isBundledLibrary(name); got != want {
			t.Errorf("isBundledLibrary(%q) = %v, want %v", name, got, want)
		}
	}
}
