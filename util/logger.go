package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger sets up the Zap Logger in a human readable console format. Output goes to
// stderr or to logFile; stdout is reserved for the language server stream.
func InitLogger(level string, logFile string) (*zap.Logger, error) {
	prodConfig := zap.NewProductionConfig()
	prodConfig.Encoding = "console"
	prodConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	prodConfig.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	if IsNotEmpty(level) {
		atomic, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		prodConfig.Level = atomic
	}

	output := "stderr"
	if IsNotEmpty(logFile) {
		output = logFile
	}
	prodConfig.OutputPaths = []string{output}
	prodConfig.ErrorOutputPaths = []string{output}

	return prodConfig.Build()
}
