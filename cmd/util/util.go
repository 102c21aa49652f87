package util

import (
	"fmt"
	"github.com/ValentinKolb/artic/rpc/client"
	"github.com/ValentinKolb/artic/rpc/common"
	"github.com/ValentinKolb/artic/rpc/transport/tcp"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
	"time"
)

var Logger = logger.GetLogger(common.LoggerCLI)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Client flags
// --------------------------------------------------------------------------

// SetupClientFlags adds the session connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	defaults := common.DefaultClientConfig("localhost", 3000)

	key := "host"
	cmd.PersistentFlags().String(key, defaults.Host, WrapString("Host of the Artic Base peer"))

	key = "port"
	cmd.PersistentFlags().Uint16(key, defaults.Port, WrapString("Port of the main socket of the peer, the worker ports are negotiated"))

	key = "connect-timeout"
	cmd.PersistentFlags().Duration(key, defaults.ConnectTimeout, WrapString("Timeout for each TCP connect"))

	key = "control-timeout"
	cmd.PersistentFlags().Duration(key, defaults.ControlTimeout, WrapString("Timeout for the reply to a control command"))

	key = "ready-polls"
	cmd.PersistentFlags().Int(key, defaults.ReadyPollCount, WrapString("How often the peer is asked whether it is ready before giving up"))

	key = "ready-interval"
	cmd.PersistentFlags().Duration(key, defaults.ReadyPollInterval, WrapString("Pause between two ready polls"))

	key = "ping-interval"
	cmd.PersistentFlags().Duration(key, defaults.PingInterval, WrapString("How often the liveness monitor wakes up"))

	key = "ping-idle"
	cmd.PersistentFlags().Duration(key, defaults.PingIdle, WrapString("Silence on the main socket after which a ping is sent"))

	key = "worker-retries"
	cmd.PersistentFlags().Int(key, defaults.WorkerRetryBudget, WrapString("Consecutive failed reads before a worker connection is declared dead"))

	key = "worker-backoff"
	cmd.PersistentFlags().Duration(key, defaults.WorkerRetryBackoff, WrapString("Pause after a failed worker read"))

	key = "rate-limit"
	cmd.PersistentFlags().Float64(key, 0, WrapString("Maximum requests per second, 0 disables the limit"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The size of the socket write buffer (in KB, 0 keeps the OS default)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 0, WrapString("The size of the socket read buffer (in KB, 0 keeps the OS default)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, defaults.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, 0 disables keepalive)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, defaults.TCPLingerSec, WrapString("The linger time (in seconds, negative keeps the OS default)"))
}

// SetupCacheFlags adds the cache tier flags to a command
func SetupCacheFlags(cmd *cobra.Command) {
	defaults := common.DefaultCacheConfig()

	key := "cache-page-size"
	cmd.PersistentFlags().Int(key, defaults.PageSize, WrapString("Size of one cached page (in bytes)"))

	key = "cache-page-count"
	cmd.PersistentFlags().Int(key, defaults.PageCount, WrapString("Number of cached pages per file"))

	key = "cache-max-split"
	cmd.PersistentFlags().Int(key, defaults.MaxSplitSize, WrapString("Reads up to this size are split into pages (in bytes)"))

	key = "cache-big-threshold"
	cmd.PersistentFlags().Int(key, defaults.BigThreshold, WrapString("Unsplit reads below this size use the big tier (in bytes)"))

	key = "cache-big-count"
	cmd.PersistentFlags().Int(key, defaults.BigCount, WrapString("Entries of the big tier"))

	key = "cache-very-big-threshold"
	cmd.PersistentFlags().Int(key, defaults.VeryBigThreshold, WrapString("Unsplit reads below this size use the very big tier, larger reads bypass the cache (in bytes)"))

	key = "cache-very-big-count"
	cmd.PersistentFlags().Int(key, defaults.VeryBigCount, WrapString("Entries of the very big tier"))
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("artic")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads the session configuration from viper
func GetClientConfig() common.ClientConfig {
	conf := common.DefaultClientConfig(viper.GetString("host"), uint16(viper.GetUint("port")))

	conf.ConnectTimeout = viper.GetDuration("connect-timeout")
	conf.ControlTimeout = viper.GetDuration("control-timeout")
	conf.ReadyPollCount = viper.GetInt("ready-polls")
	conf.ReadyPollInterval = viper.GetDuration("ready-interval")
	conf.PingInterval = viper.GetDuration("ping-interval")
	conf.PingIdle = viper.GetDuration("ping-idle")
	conf.WorkerRetryBudget = viper.GetInt("worker-retries")
	conf.WorkerRetryBackoff = viper.GetDuration("worker-backoff")
	conf.RequestsPerSecond = viper.GetFloat64("rate-limit")
	conf.SocketConf = common.SocketConf{
		WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
	}
	conf.TCPConf = common.TCPConf{
		TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
	}

	return conf
}

// GetCacheConfig reads the cache configuration from viper
func GetCacheConfig() common.CacheConfig {
	return common.CacheConfig{
		PageSize:         viper.GetInt("cache-page-size"),
		PageCount:        viper.GetInt("cache-page-count"),
		MaxSplitSize:     viper.GetInt("cache-max-split"),
		BigThreshold:     viper.GetInt("cache-big-threshold"),
		BigCount:         viper.GetInt("cache-big-count"),
		VeryBigThreshold: viper.GetInt("cache-very-big-threshold"),
		VeryBigCount:     viper.GetInt("cache-very-big-count"),
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Connect creates a session from the viper configuration and runs the handshake.
// Communication errors after the handshake are logged.
func Connect() (*client.Session, error) {
	config := GetClientConfig()

	session, err := client.NewSession(config, tcp.NewTCPConnector())
	if err != nil {
		return nil, err
	}

	session.SetCommunicationErrorCallback(func(err error) {
		Logger.Errorf("Session to %s failed: %v", config.Endpoint(), err)
	})

	start := time.Now()
	if err := session.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Endpoint(), err)
	}
	Logger.Infof("Connected to %s in %s", config.Endpoint(), time.Since(start))

	return session, nil
}
