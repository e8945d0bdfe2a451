package document

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-identity-verifier/images"
)

func aliceClaim() Claim {
	return Claim{FirstName: "Alice", LastName: "Jansen", Age: "34", IDNumber: "12345"}
}

func TestVerifyClaims(t *testing.T) {
	t.Run("all fields present at word boundaries", func(t *testing.T) {
		res := VerifyClaims("republic id card alice jansen age 34 id 12345 issued", aliceClaim())
		require.True(t, res.AllMatched)
		require.Empty(t, res.FailedFields())
		for _, f := range VerifiedFields {
			require.True(t, res.Fields[f], f)
		}
	})

	t.Run("first name and id number match", func(t *testing.T) {
		res := VerifyClaims("alice id 12345 issued", Claim{FirstName: "Alice", IDNumber: "12345"})
		require.True(t, res.Fields[FieldFirstName])
		require.True(t, res.Fields[FieldIDNumber])
		require.False(t, res.AllMatched)
	})

	t.Run("substring of a longer number is rejected", func(t *testing.T) {
		res := VerifyClaims("alice id 123456", Claim{FirstName: "Alice", IDNumber: "12345"})
		require.True(t, res.Fields[FieldFirstName])
		require.False(t, res.Fields[FieldIDNumber])
	})

	t.Run("digit inside a longer number is rejected", func(t *testing.T) {
		res := VerifyClaims("alice jansen 12345 age 31", Claim{FirstName: "alice", LastName: "jansen", Age: "1", IDNumber: "12345"})
		require.False(t, res.Fields[FieldAge])
		require.Equal(t, []string{FieldAge}, res.FailedFields())
	})

	t.Run("name embedded in another word is rejected", func(t *testing.T) {
		res := VerifyClaims("malice jansen 34 12345", aliceClaim())
		require.False(t, res.Fields[FieldFirstName])
		require.False(t, res.AllMatched)
	})

	t.Run("missing fields are named in display order", func(t *testing.T) {
		res := VerifyClaims("alice 34", aliceClaim())
		require.False(t, res.AllMatched)
		require.Equal(t, []string{FieldLastName, FieldIDNumber}, res.FailedFields())
	})

	t.Run("empty text yields all false", func(t *testing.T) {
		res := VerifyClaims("", aliceClaim())
		require.False(t, res.AllMatched)
		require.Len(t, res.Fields, len(VerifiedFields))
		for _, f := range VerifiedFields {
			require.False(t, res.Fields[f])
		}
	})

	t.Run("claim values are case and space insensitive", func(t *testing.T) {
		res := VerifyClaims("ALICE   Jansen\n34\t12345", Claim{FirstName: "  aLiCe ", LastName: "JANSEN", Age: " 34", IDNumber: "12345"})
		require.True(t, res.AllMatched)
	})

	t.Run("regex metacharacters are matched literally", func(t *testing.T) {
		res := VerifyClaims("o'neil-smith a.b 34 12345", Claim{FirstName: "o'neil-smith", LastName: "a.b", Age: "34", IDNumber: "12345"})
		require.True(t, res.AllMatched)

		res = VerifyClaims("axb 34 12345", Claim{FirstName: "axb", LastName: "a.b", Age: "34", IDNumber: "12345"})
		require.False(t, res.Fields[FieldLastName])
	})
}

func TestVerifyClaimsIDNumberSpacing(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		id      string
		matched bool
	}{
		{"spaced claim against compact text", "nr 12345", "12 345", true},
		{"spaced claim against spaced text", "nr 12 345", "12 345", true},
		{"compact claim against spaced text", "nr 12 345", "12345", false},
		{"spaced claim inside longer number", "nr 912345", "12 345", false},
		{"letters in id number", "document ab1234567", "AB1234 567", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := VerifyClaims(tt.text, Claim{IDNumber: tt.id})
			require.Equal(t, tt.matched, res.Fields[FieldIDNumber])
		})
	}
}

func TestNormalizeText(t *testing.T) {
	require.Equal(t, "alice jansen 12345", NormalizeText("  ALICE\n\tJansen   12345 "))
	require.Equal(t, "", NormalizeText(" \n "))
	// full-width digits fold to ASCII
	require.Equal(t, "12345", NormalizeText("１２３４５"))
}

func TestMissingFields(t *testing.T) {
	require.Empty(t, MissingFields(aliceClaim()))
	require.Equal(t, VerifiedFields, MissingFields(Claim{}))
	require.Equal(t, []string{FieldLastName, FieldIDNumber}, MissingFields(Claim{FirstName: "a", LastName: "  ", Age: "3"}))
}

func TestClaimPublicDropsPasswords(t *testing.T) {
	c := aliceClaim()
	c.Email = "alice@example.com"
	c.Password = "secret"
	c.ConfirmPassword = "secret"

	public := c.Public()
	require.Empty(t, public.Password)
	require.Empty(t, public.ConfirmPassword)
	require.Equal(t, "alice@example.com", public.Email)
	require.Equal(t, "secret", c.Password)
}

type stubRecognizer struct {
	text string
	err  error
}

func (s stubRecognizer) Recognize(context.Context, []byte) (string, error) {
	return s.text, s.err
}

func TestExtractText(t *testing.T) {
	img := &images.Normalized{JPEG: []byte{1}}

	v := NewVerifier(stubRecognizer{text: "Republic\nOF   Testland\n"})
	require.Equal(t, "republic of testland", v.ExtractText(context.Background(), img))

	v = NewVerifier(stubRecognizer{err: errors.New("engine unavailable")})
	require.Equal(t, "", v.ExtractText(context.Background(), img))

	require.Equal(t, "", v.ExtractText(context.Background(), nil))
}

func TestRemoteRecognizer(t *testing.T) {
	t.Run("returns recognized text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/recognize" {
				t.Errorf("Expected path /api/recognize, got %s", r.URL.Path)
			}
			var req recognizeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			if req.Lang != "eng" || req.Image == "" {
				t.Errorf("unexpected request %+v", req)
			}
			json.NewEncoder(w).Encode(map[string]string{"text": "ALICE 12345"})
		}))
		defer server.Close()

		text, err := NewRemoteRecognizer(server.URL, "", time.Second).Recognize(context.Background(), []byte("jpeg"))
		require.NoError(t, err)
		require.Equal(t, "ALICE 12345", text)
	})

	t.Run("propagates server errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := NewRemoteRecognizer(server.URL, "eng", time.Second).Recognize(context.Background(), []byte("jpeg"))
		require.ErrorContains(t, err, "status 503")
	})
}
