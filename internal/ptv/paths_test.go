package ptv

import (
	"path/filepath"
	"testing"
)

func TestShortBase(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"img/cam3_%04d.tif", "cam3"},
		{"img/cam3.", "cam3"},
		{"cam1_%d.png", "cam1"},
		{"seq/calib_%03d.tiff", "calib"},
		{"img/cam2-%05d.jpg", "cam2"},
		{"plate.tif", "plate"},
		{"cam4", "cam4"},
	}
	for _, c := range cases {
		if got := ShortBase(c.base); got != c.want {
			t.Errorf("ShortBase(%q) = %q, want %q", c.base, got, c.want)
		}
	}
}

func TestCameraID(t *testing.T) {
	cases := []struct {
		base string
		id   int
		ok   bool
	}{
		{"img/cam3_%04d.tif", 2, true},
		{"cam1.", 0, true},
		{"img/cam10_%d.tif", 9, true},
		{"plate.tif", 0, false},
		{"cam0_%04d.tif", 0, false},
	}
	for _, c := range cases {
		id, ok := CameraID(c.base)
		if id != c.id || ok != c.ok {
			t.Errorf("CameraID(%q) = (%d, %v), want (%d, %v)", c.base, id, ok, c.id, c.ok)
		}
	}
}

func TestTargetsPath(t *testing.T) {
	ws := Workspace{Root: "/data", ResDir: "/data/res"}
	got := ws.TargetsPath("img/cam2_%04d.tif", 42)
	want := filepath.Join("/data/res", "cam2.0042_targets")
	if got != want {
		t.Errorf("TargetsPath = %q, want %q", got, want)
	}
}

func TestImagePath(t *testing.T) {
	ws := Workspace{Root: "/data"}
	cases := []struct {
		base  string
		frame int
		want  string
	}{
		{"img/cam1_%04d.tif", 7, filepath.Join("/data", "img/cam1_0007.tif")},
		{"img/cam1.", 98, filepath.Join("/data", "img/cam1.98")},
		{"/abs/cam1_%d.tif", 3, "/abs/cam1_3.tif"},
	}
	for _, c := range cases {
		if got := ws.ImagePath(c.base, c.frame); got != c.want {
			t.Errorf("ImagePath(%q, %d) = %q, want %q", c.base, c.frame, got, c.want)
		}
	}
}

func TestFramePaths(t *testing.T) {
	ws := Workspace{ResDir: "res"}
	if got, want := ws.CorresPath(123), filepath.Join("res", "rt_is.123"); got != want {
		t.Errorf("CorresPath = %q, want %q", got, want)
	}
	if got, want := ws.LinksPath(123), filepath.Join("res", "ptv_is.123"); got != want {
		t.Errorf("LinksPath = %q, want %q", got, want)
	}
}

func TestResolve(t *testing.T) {
	ws := Workspace{Root: "/work"}
	if got := ws.Resolve("cal/cam1.ori"); got != filepath.Join("/work", "cal/cam1.ori") {
		t.Errorf("relative resolve = %q", got)
	}
	if got := ws.Resolve("/etc/cam1.ori"); got != "/etc/cam1.ori" {
		t.Errorf("absolute resolve = %q", got)
	}
	if got := ws.Resolve(""); got != "" {
		t.Errorf("empty resolve = %q", got)
	}
}
