package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "sankeyhub/internal/errors"
)

func TestValidateGASWebappURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{
			name: "deployed web app",
			url:  "https://script.google.com/macros/s/AKfycbxT3k9/exec",
		},
		{
			name: "googleusercontent host",
			url:  "https://script.googleusercontent.com/macros/echo?user_content_key=abc",
		},
		{
			name:    "empty",
			url:     "",
			wantErr: "required",
		},
		{
			name:    "plain http",
			url:     "http://script.google.com/macros/s/abc/exec",
			wantErr: "https",
		},
		{
			name:    "foreign host",
			url:     "https://example.com/macros/s/abc/exec",
			wantErr: "Apps Script host",
		},
		{
			name:    "lookalike host",
			url:     "https://script.google.com.evil.io/macros/s/abc/exec",
			wantErr: "Apps Script host",
		},
		{
			name:    "not a macros path",
			url:     "https://script.google.com/home/projects/abc",
			wantErr: "/macros/",
		},
		{
			name:    "path traversal",
			url:     "https://script.google.com/macros/../admin",
			wantErr: "traversal",
		},
		{
			name:    "empty path segment",
			url:     "https://script.google.com/macros//exec",
			wantErr: "empty segments",
		},
		{
			name:    "unparseable",
			url:     "https://script.google.com/macros/%zz",
			wantErr: "not a valid URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGASWebappURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			var verr *apierrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "gas_webapp_url", verr.Field)
			assert.Contains(t, verr.Message, tt.wantErr)
		})
	}
}
