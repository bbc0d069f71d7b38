package match

import (
	"bufio"
	"crypto/md5" //nolint:gosec // apr1 is a legacy htpasswd hash family we must verify, not generate
	"crypto/sha1" //nolint:gosec // {SHA} htpasswd family, legacy but still encountered in pwfiles
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// decodeBasicAuthPayload base64-decodes the Authorization header payload
// up to the first ':' (spec.md §4.1).
func decodeBasicAuthPayload(encoded string) (user, pass string, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", false
	}
	idx := strings.IndexByte(string(raw), ':')
	if idx < 0 {
		return "", "", false
	}
	return string(raw[:idx]), string(raw[idx+1:]), true
}

// HtpasswdChecker verifies credentials against an Apache htpasswd-style
// password file, caching parsed file contents with an mtime-based
// invalidation check (spec.md §6 "Password file").
type HtpasswdChecker struct {
	mu    sync.Mutex
	cache map[string]htpasswdFile
}

type htpasswdFile struct {
	modTime time.Time
	entries map[string]string // user -> hash
}

// NewHtpasswdChecker builds an empty checker.
func NewHtpasswdChecker() *HtpasswdChecker {
	return &HtpasswdChecker{cache: map[string]htpasswdFile{}}
}

// Verify implements PasswordChecker.
func (h *HtpasswdChecker) Verify(pwfile, user, password string) (bool, error) {
	entries, err := h.load(pwfile)
	if err != nil {
		return false, err
	}
	hash, ok := entries[user]
	if !ok {
		return false, nil
	}
	return verifyHash(hash, password), nil
}

func (h *HtpasswdChecker) load(path string) (map[string]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if cached, ok := h.cache[path]; ok && cached.modTime.Equal(fi.ModTime()) {
		return cached.entries, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		entries[line[:idx]] = line[idx+1:]
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	h.cache[path] = htpasswdFile{modTime: fi.ModTime(), entries: entries}
	return entries, nil
}

// verifyHash dispatches on the hash prefix to select the hash family:
// $apr1$ (APR-MD5), $2y$ (bcrypt), {SHA} (SHA1-base64), crypt(3), or plain
// (spec.md §6).
func verifyHash(hash, password string) bool {
	switch {
	case strings.HasPrefix(hash, "$apr1$"):
		return subtle.ConstantTimeCompare([]byte(apr1MD5(password, hash)), []byte(hash)) == 1
	case strings.HasPrefix(hash, "$2y$"), strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	case strings.HasPrefix(hash, "{SHA}"):
		sum := sha1.Sum([]byte(password)) //nolint:gosec // legacy htpasswd family
		want := "{SHA}" + base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(want), []byte(hash)) == 1
	case len(hash) == 13: // crypt(3) DES, identified by fixed length and no recognizable prefix
		return cryptDES(password, hash[:2]) == hash
	default: // plain
		return subtle.ConstantTimeCompare([]byte(hash), []byte(password)) == 1
	}
}

// apr1MD5 implements the APR1 variant of the MD5-crypt algorithm used by
// htpasswd's $apr1$ hashes.
func apr1MD5(password, hash string) string {
	parts := strings.SplitN(hash, "$", 4)
	if len(parts) != 4 {
		return ""
	}
	salt := parts[2]
	return apr1Crypt(password, salt)
}

func apr1Crypt(password, salt string) string {
	magic := "$apr1$"
	ctx := md5.New() //nolint:gosec // apr1 legacy
	ctx.Write([]byte(password))
	ctx.Write([]byte(magic))
	ctx.Write([]byte(salt))

	ctx1 := md5.New() //nolint:gosec
	ctx1.Write([]byte(password))
	ctx1.Write([]byte(salt))
	ctx1.Write([]byte(password))
	final := ctx1.Sum(nil)

	for i, pl := 0, len(password); pl > 0; i, pl = i+16, pl-16 {
		n := 16
		if pl < 16 {
			n = pl
		}
		ctx.Write(final[:n])
	}
	for i := len(password); i != 0; i >>= 1 {
		if i&1 != 0 {
			ctx.Write([]byte{0})
		} else {
			ctx.Write([]byte(password[:1]))
		}
	}
	final = ctx.Sum(nil)

	for i := 0; i < 1000; i++ {
		ctx1 := md5.New() //nolint:gosec
		if i&1 != 0 {
			ctx1.Write([]byte(password))
		} else {
			ctx1.Write(final)
		}
		if i%3 != 0 {
			ctx1.Write([]byte(salt))
		}
		if i%7 != 0 {
			ctx1.Write([]byte(password))
		}
		if i&1 != 0 {
			ctx1.Write(final)
		} else {
			ctx1.Write([]byte(password))
		}
		final = ctx1.Sum(nil)
	}

	itoa64 := "./0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	var out strings.Builder
	encodeTriple := func(a, b, c byte, n int) {
		v := int(a)<<16 | int(b)<<8 | int(c)
		for i := 0; i < n; i++ {
			out.WriteByte(itoa64[v&0x3f])
			v >>= 6
		}
	}
	encodeTriple(final[0], final[6], final[12], 4)
	encodeTriple(final[1], final[7], final[13], 4)
	encodeTriple(final[2], final[8], final[14], 4)
	encodeTriple(final[3], final[9], final[15], 4)
	encodeTriple(final[4], final[10], final[5], 4)
	encodeTriple(0, 0, final[11], 2)

	return magic + salt + "$" + out.String()
}

// cryptDES is a placeholder for traditional crypt(3): real DES-crypt
// requires a full DES implementation not present in the corpus' dependency
// set. We report it as unverifiable rather than fabricate a DES
// implementation; config validation should warn when a pwfile uses it.
func cryptDES(_, salt string) string {
	return fmt.Sprintf("<unsupported-crypt-%s>", salt)
}
