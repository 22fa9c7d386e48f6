package config

import "testing"

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.KeyStoreDir != "./data/keys" {
		t.Errorf("expected KeyStoreDir to be './data/keys', got %q", opts.KeyStoreDir)
	}
	if opts.MasterKeyProvider != "local" {
		t.Errorf("expected MasterKeyProvider to be 'local', got %q", opts.MasterKeyProvider)
	}
	if opts.KeyAutoRotateThreshold != 0.9 {
		t.Errorf("expected KeyAutoRotateThreshold to be 0.9, got %v", opts.KeyAutoRotateThreshold)
	}
	if opts.RetentionYearsDefault != 7 {
		t.Errorf("expected RetentionYearsDefault to be 7, got %d", opts.RetentionYearsDefault)
	}
	if opts.RetentionYearsCompliance != 10 {
		t.Errorf("expected RetentionYearsCompliance to be 10, got %d", opts.RetentionYearsCompliance)
	}
	if opts.RetentionYearsIndigenous != 50 {
		t.Errorf("expected RetentionYearsIndigenous to be 50, got %d", opts.RetentionYearsIndigenous)
	}
	if err := opts.Validate(); err != nil {
		t.Errorf("expected default options to be valid, got %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{
			name:    "default options are valid",
			opts:    DefaultOptions(),
			wantErr: false,
		},
		{
			name:    "zero threshold disables auto-rotate and is valid",
			opts:    Options{KeyAutoRotateThreshold: 0},
			wantErr: false,
		},
		{
			name:    "threshold of exactly 1 is invalid",
			opts:    Options{KeyAutoRotateThreshold: 1},
			wantErr: true,
		},
		{
			name:    "negative threshold is invalid",
			opts:    Options{KeyAutoRotateThreshold: -0.1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
