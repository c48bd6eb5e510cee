package sstv

/*
 * SSTV Extension Registration
 * Provides factory function and metadata for the SSTV decoder
 *
 * Copyright (c) 2026, UberSDR project
 */

// AudioExtensionFactory is a function that creates a new extension instance
type AudioExtensionFactory func(audioParams AudioExtensionParams, extensionParams map[string]interface{}) (AudioExtension, error)

// Factory creates a new SSTV extension instance
func Factory(audioParams AudioExtensionParams, extensionParams map[string]interface{}) (AudioExtension, error) {
	return NewSSTVExtension(audioParams, extensionParams)
}

// GetInfo returns extension metadata
func GetInfo() map[string]interface{} {
	defaults := DefaultConfig()

	modes := make([]map[string]interface{}, 0, len(modeSpecs))
	for _, m := range Modes() {
		modes = append(modes, m.Info())
	}

	return map[string]interface{}{
		"name":        "sstv",
		"description": "Robot 36 Slow Scan Television (SSTV) decoder with VIS detection, drift tracking and FSK ID",
		"version":     "1.0.0",
		"author":      "UberSDR",
		"parameters": map[string]interface{}{
			"decode_fsk_id": map[string]interface{}{
				"type":        "boolean",
				"description": "Decode FSK callsign transmission after image",
				"default":     defaults.DecodeFSKID,
			},
			"max_missed_lines": map[string]interface{}{
				"type":        "integer",
				"description": "Consecutive lines without sync before a decode is abandoned",
				"default":     defaults.MaxMissedLines,
			},
			"header_timeout_lines": map[string]interface{}{
				"type":        "integer",
				"description": "Line periods to search for a VIS header before restarting",
				"default":     defaults.HeaderTimeoutLines,
			},
			"sync_threshold": map[string]interface{}{
				"type":        "number",
				"description": "Minimum 1200 Hz sync score (0-1)",
				"default":     defaults.SyncThreshold,
			},
		},
		"supported_modes": modes,
		"output_format": map[string]interface{}{
			"type":        "binary",
			"description": "Binary protocol with image lines and status messages",
			"protocol": map[string]interface{}{
				"image_line":    map[string]interface{}{"type": MsgTypeImageLine, "format": "[type:1][line:4][width:4][rgb_data:width*3]"},
				"mode_detected": map[string]interface{}{"type": MsgTypeModeDetected, "format": "[type:1][vis:1][extended:1][name_len:1][name:len]"},
				"status":        map[string]interface{}{"type": MsgTypeStatus, "format": "[type:1][code:1][msg_len:2][message:len]"},
				"sync_detected": map[string]interface{}{"type": MsgTypeSyncDetected, "format": "[type:1][quality:1]"},
				"complete":      map[string]interface{}{"type": MsgTypeComplete, "format": "[type:1][total_lines:4]"},
				"fsk_id":        map[string]interface{}{"type": MsgTypeFSKID, "format": "[type:1][len:1][callsign:len]"},
				"image_start":   map[string]interface{}{"type": MsgTypeImageStart, "format": "[type:1][width:4][height:4]"},
			},
		},
		"features": []string{
			"VIS code detection with parity check",
			"Header frequency offset correction",
			"Sync tracking with sample clock drift correction",
			"Missing line interpolation",
			"FSK callsign decoding",
		},
		"requirements": map[string]interface{}{
			"sample_rate": "8000 Hz or higher (tested at 44100 and 48000 Hz)",
			"channels":    1,
			"bit_depth":   16,
		},
	}
}
