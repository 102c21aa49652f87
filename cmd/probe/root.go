package probe

import (
	"fmt"
	"github.com/ValentinKolb/artic/cmd/util"
	"github.com/ValentinKolb/artic/rpc/client"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ProbeCmd connects to a peer and prints the negotiated session parameters
	ProbeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Connect to a peer and print the negotiated session parameters",
		Long: `Runs the session handshake against a peer, prints the negotiated values
and keeps the session open for the given duration so the liveness monitor can be observed.`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
		RunE: run,
	}
)

func init() {
	cobra.OnInitialize(util.InitClientConfig)

	util.SetupClientFlags(ProbeCmd)

	key := "hold"
	ProbeCmd.Flags().Duration(key, 0, util.WrapString("How long to keep the session open after the handshake"))
	key = "metrics"
	ProbeCmd.Flags().Bool(key, false, util.WrapString("Print the session and process metrics before exiting"))
}

func run(_ *cobra.Command, _ []string) error {
	config := util.GetClientConfig()
	fmt.Println(config.String())

	session, err := util.Connect()
	if err != nil {
		return err
	}
	defer session.Stop()

	printSession(session)

	if hold := viper.GetDuration("hold"); hold > 0 {
		fmt.Printf("\nHolding session for %s...\n", hold)
		select {
		case <-time.After(hold):
		case <-waitStopped(session):
			return fmt.Errorf("session failed while holding")
		}
	}

	if viper.GetBool("metrics") {
		fmt.Println("\nSESSION METRICS")
		gometrics.WriteOnce(session.Metrics(), os.Stdout)
		fmt.Println("\nPROCESS METRICS")
		metrics.WritePrometheus(os.Stdout, false)
	}
	return nil
}

// printSession prints the values negotiated during the handshake
func printSession(session *client.Session) {
	ports := make([]string, 0, len(session.WorkerPorts()))
	for _, p := range session.WorkerPorts() {
		ports = append(ports, strconv.Itoa(int(p)))
	}

	fmt.Println("SESSION")
	fmt.Printf("  %-22s: %d\n", "Protocol Version", session.Version())
	fmt.Printf("  %-22s: %d bytes\n", "Max Request Size", session.MaxRequestSize())
	fmt.Printf("  %-22s: %d\n", "Max Parameters", session.MaxParameterCount())
	fmt.Printf("  %-22s: %s\n", "Worker Ports", strings.Join(ports, ", "))
}

// waitStopped returns a channel that is closed once the session stopped
func waitStopped(session *client.Session) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for !session.Stopped() {
			time.Sleep(100 * time.Millisecond)
		}
		close(done)
	}()
	return done
}
