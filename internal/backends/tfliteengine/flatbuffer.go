package tfliteengine

// fileIdentifier sits at offset 4 of every TFLite flatbuffer.
const fileIdentifier = "TFL3"

// IsFlatbuffer reports whether blob carries the TFLite file identifier.
func IsFlatbuffer(blob []byte) bool {
	return len(blob) >= 8 && string(blob[4:8]) == fileIdentifier
}
