package pathresolve

import (
	"errors"
	"testing"
)

func TestRelativePath(t *testing.T) {
	r := New()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"var-www project strips site dir", "/var/www/acme/index.php", "index.php"},
		{"var-www nested", "/var/www/acme/assets/css/site.css", "assets/css/site.css"},
		{"www marker", `C:\projects\site\www\admin\login.php`, "admin/login.php"},
		{"public_html marker", "/hosting/user/public_html/shop/cart.php", "shop/cart.php"},
		{"htdocs marker", `D:\xampp\htdocs\blog\post.php`, "blog/post.php"},
		{"home marker", "/home/deploy/scripts/run.sh", "deploy/scripts/run.sh"},
		{"local marker", `C:\dev\local\tool\main.js`, "tool/main.js"},
		{"editor temp folder", `C:\Users\dev\AppData\Local\Temp\ftp123abc\modules\cart.php`, "modules/cart.php"},
		{"no marker degrades to base name", `C:\randomplace\somedir\notes.txt`, "notes.txt"},
		{"backslashes normalized in result", `E:\www\a\b\c.php`, "a/b/c.php"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.RelativePath(tc.in); got != tc.want {
				t.Errorf("RelativePath(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRelativePathIsDeterministic(t *testing.T) {
	r := New()
	in := "/var/www/acme/a/b/c.php"
	first := r.RelativePath(in)
	for i := 0; i < 5; i++ {
		if got := r.RelativePath(in); got != first {
			t.Fatalf("RelativePath not deterministic: %q then %q", first, got)
		}
	}
}

func TestSite(t *testing.T) {
	r := New()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"segment after var-www", "/var/www/acme/index.php", "acme"},
		{"segment after www", `C:\web\www\shop\index.php`, "shop"},
		{"pseudo-url host", "ftp://ftp.example.com/site/index.php", "ftp.example.com"},
		{"sftp url host", "sftp://files.acme.org/www/page.html", "files.acme.org"},
		{"dotted segment as domain", `C:\clients\example.com\notes.txt`, "example.com"},
		{"dotted file names are not domains", `C:\work\stuff\index.html`, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Site(tc.in)
			if tc.want == "" {
				// Expect the hostname fallback, whatever it is; it must at
				// least not be one of the file names in the path.
				if got == "index.html" || got == "stuff" {
					t.Errorf("Site(%q) = %q, expected hostname fallback", tc.in, got)
				}
				return
			}
			if got != tc.want {
				t.Errorf("Site(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSiteSegmentScanBeforeWebroot(t *testing.T) {
	r := New()
	// No marker regex matches here ("httpdocs" is not in the after-marker
	// set), so the segment scan tier must find the predecessor of httpdocs.
	got := r.Site(`C:\hosting\client-site\httpdocs\index.txt`)
	if got != "client-site" {
		t.Errorf("Site() = %q, want %q", got, "client-site")
	}
}

func TestCustomMarkers(t *testing.T) {
	r := New("wwwroot")

	if got := r.RelativePath(`C:\inetpub\wwwroot\api\handler.php`); got != "api/handler.php" {
		t.Errorf("RelativePath() = %q, want %q", got, "api/handler.php")
	}
	if got := r.Site("/srv/wwwroot/intranet/index.php"); got != "intranet" {
		t.Errorf("Site() = %q, want %q", got, "intranet")
	}

	// Built-in markers still outrank custom ones.
	if got := r.RelativePath("/var/www/acme/wwwroot/a.php"); got != "wwwroot/a.php" {
		t.Errorf("RelativePath() = %q, want %q", got, "wwwroot/a.php")
	}
}

func TestSiteHostnameFallback(t *testing.T) {
	r := New()
	r.hostname = func() (string, error) { return "devbox", nil }

	if got := r.Site(`C:\plain\folder\file`); got != "devbox" {
		t.Errorf("Site() = %q, want hostname %q", got, "devbox")
	}

	r.hostname = func() (string, error) { return "", errors.New("no hostname") }
	if got := r.Site(`C:\plain\folder\file`); got != UnknownSite {
		t.Errorf("Site() = %q, want %q", got, UnknownSite)
	}
}

func TestSanitizeSiteKey(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"acme", "acme"},
		{"example.com", "example.com"},
		{"my site (old)", "my_site__old_"},
		{"ftp://host", "ftp___host"},
		{"under_score-dash.dot", "under_score-dash.dot"},
	}

	for _, tc := range testCases {
		got := SanitizeSiteKey(tc.in)
		if got != tc.want {
			t.Errorf("SanitizeSiteKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
		// Idempotence: sanitizing a sanitized key is a no-op.
		if again := SanitizeSiteKey(got); again != got {
			t.Errorf("SanitizeSiteKey not idempotent: %q -> %q", got, again)
		}
	}
}
