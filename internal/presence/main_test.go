package presence

import (
	"os"
	"testing"

	"go.uber.org/zap"

	"callwave-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}
