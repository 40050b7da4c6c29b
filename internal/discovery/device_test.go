package discovery

import "testing"

func TestDevice_String(t *testing.T) {
	device := &Device{
		Name:     "device1",
		Hostname: "device1.local.",
		IP:       "192.168.4.16",
		Port:     80,
	}

	expected := "device1 (device1.local.) at 192.168.4.16:80"
	if device.String() != expected {
		t.Errorf("Device.String() = %v, want %v", device.String(), expected)
	}
}

func TestDevice_StringListenerOnly(t *testing.T) {
	device := &Device{Name: "device1", Hostname: "device1.local.", IP: "192.168.4.16", UpdatePort: 4000}

	expected := "device1 (device1.local.) at 192.168.4.16:4000"
	if device.String() != expected {
		t.Errorf("Device.String() = %v, want %v", device.String(), expected)
	}
	if (&Device{IP: "192.168.4.16", Port: 80}).UpdateAddress() != "" {
		t.Error("UpdateAddress() should be empty without an advertised listener")
	}
}

func TestDevice_BaseURL(t *testing.T) {
	tests := []struct {
		name     string
		device   *Device
		expected string
	}{
		{
			name:     "standard HTTP port",
			device:   &Device{IP: "192.168.4.16", Port: 80},
			expected: "http://192.168.4.16:80",
		},
		{
			name:     "custom port",
			device:   &Device{IP: "10.0.0.5", Port: 8080},
			expected: "http://10.0.0.5:8080",
		},
		{
			name:     "IPv6",
			device:   &Device{IP: "fe80::1", Port: 80},
			expected: "http://[fe80::1]:80",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.device.BaseURL(); got != tt.expected {
				t.Errorf("Device.BaseURL() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDevice_GetMetadata(t *testing.T) {
	device := &Device{Metadata: map[string]string{"version": "v1.0.0"}}

	if got := device.GetMetadata("version"); got != "v1.0.0" {
		t.Errorf("GetMetadata(version) = %q, want v1.0.0", got)
	}
	if got := device.GetMetadata("missing"); got != "" {
		t.Errorf("GetMetadata(missing) = %q, want empty", got)
	}

	empty := &Device{}
	if got := empty.GetMetadata("version"); got != "" {
		t.Errorf("GetMetadata() on nil metadata = %q, want empty", got)
	}
}

func TestDevice_Matches(t *testing.T) {
	device := &Device{Name: "device1", Hostname: "esp-abc123.local."}

	tests := []struct {
		host string
		want bool
	}{
		{"device1", true},
		{"DEVICE1.local", true},
		{"esp-abc123", true},
		{"esp-abc123.local.", true},
		{"device2", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := device.Matches(tt.host); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}
