package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/juju/ratelimit"
	"github.com/montanaflynn/stats"
	"github.com/pingcap-incubator/tinytxn/kv/config"
	"github.com/pingcap-incubator/tinytxn/kv/kernel"
	"github.com/pingcap-incubator/tinytxn/kv/status"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap-incubator/tinytxn/kv/util/engine_util"
	"github.com/pingcap-incubator/tinytxn/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configFile string
	dbPath     string
	logLevel   string
	logFile    string
)

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configFile, "config", "C", "", "TOML config file")
	fs.StringVar(&dbPath, "db", "", "data directory, overrides the config file")
	fs.StringVarP(&logLevel, "log-level", "L", "", "log level: debug, info, warn, error, fatal")
	fs.StringVar(&logFile, "log-file", "", "log file, rotated by size")
}

func loadConfig() (*config.Config, error) {
	conf, err := config.LoadFile(configFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		conf.DBPath = dbPath
	}
	if logLevel != "" {
		conf.LogLevel = logLevel
	}
	if logFile != "" {
		conf.LogFile = logFile
	}
	log.SetLevelByString(conf.LogLevel)
	if conf.LogFile != "" {
		log.SetRotatingFile(conf.LogFile, conf.LogMaxSizeMB, 10)
	}
	return conf, nil
}

func openKernel(ctx context.Context) (*kernel.Kernel, *config.Config) {
	conf, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	k, err := kernel.Open(ctx, conf)
	if err != nil {
		log.Fatalf("open kernel at %s: %v", conf.DBPath, err)
	}
	return k, conf
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(data))
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Recover if needed and serve status until interrupted",
		Run: func(cmd *cobra.Command, args []string) {
			k, conf := openKernel(globalContext)
			defer k.Close()
			if conf.StatusAddr != "" {
				srv, err := status.Start(conf.StatusAddr, k)
				if err != nil {
					log.Fatal(err)
				}
				defer srv.Stop(context.Background())
			}
			<-globalContext.Done()
			log.Info("shutting down")
		},
	}
}

func newRecoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Replay the transaction log and exit",
		Run: func(cmd *cobra.Command, args []string) {
			k, _ := openKernel(globalContext)
			defer k.Close()
			r := k.Recovery()
			if r == nil {
				fmt.Println("no recovery needed")
				return
			}
			fmt.Printf("replayed %d transactions from %s\n", r.RecoveredTransactions, r.Start)
			if r.RecoveredTransactions > 0 {
				fmt.Printf("last transaction %d, closed at %s\n", r.LastTransaction.TransactionID, r.LastTransaction.Position)
			}
			if r.CorruptTail != nil {
				fmt.Printf("truncated corrupt tail: %v\n", r.CorruptTail)
			}
			if len(r.IncompleteChunkedTransactions) > 0 {
				fmt.Printf("dropped incomplete chunked transactions %v\n", r.IncompleteChunkedTransactions)
			}
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the transaction watermarks",
		Run: func(cmd *cobra.Command, args []string) {
			k, _ := openKernel(globalContext)
			defer k.Close()
			printJSON(k.Status())
		},
	}
}

var (
	loadCount   int
	loadThreads int
	loadKeys    int
	loadRate    float64
)

func newLoadCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "load",
		Short: "Commit synthetic transactions",
		Run:   runLoadCommandFunc,
	}
	m.Flags().IntVarP(&loadCount, "count", "n", 10000, "number of transactions")
	m.Flags().IntVarP(&loadThreads, "threads", "t", 8, "committing goroutines")
	m.Flags().IntVar(&loadKeys, "keys", 4, "keys written by each transaction")
	m.Flags().Float64Var(&loadRate, "rate", 0, "transactions per second, 0 for unlimited")
	return m
}

func runLoadCommandFunc(cmd *cobra.Command, args []string) {
	k, _ := openKernel(globalContext)
	defer k.Close()

	var limit *ratelimit.Bucket
	if loadRate > 0 {
		limit = ratelimit.NewBucketWithRate(loadRate, int64(loadThreads))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		latencies = make([]float64, 0, loadCount)
		failed    int
	)
	ids := make(chan int)
	start := time.Now()
	for i := 0; i < loadThreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range ids {
				commands := make([]txnlog.Command, 0, loadKeys)
				for j := 0; j < loadKeys; j++ {
					commands = append(commands, txnlog.Command{
						Op:    txnlog.OpPut,
						CF:    engine_util.CfDefault,
						Key:   []byte(fmt.Sprintf("load_%08d_%d", n, j)),
						Value: []byte(fmt.Sprintf("%d", n)),
					})
				}
				if limit != nil {
					limit.Wait(1)
				}
				begin := time.Now()
				_, err := k.Commit(globalContext, commands)
				mu.Lock()
				if err != nil {
					failed++
					log.Errorf("commit %d: %v", n, err)
				} else {
					latencies = append(latencies, time.Since(begin).Seconds()*1000)
				}
				mu.Unlock()
			}
		}()
	}
	for n := 0; n < loadCount; n++ {
		select {
		case ids <- n:
		case <-globalContext.Done():
			n = loadCount
		}
	}
	close(ids)
	wg.Wait()
	elapsed := time.Since(start)
	fmt.Printf("committed %d transactions in %s, %.0f txn/s, %d failed\n",
		len(latencies), elapsed, float64(len(latencies))/elapsed.Seconds(), failed)
	if len(latencies) > 0 {
		median, _ := stats.Median(latencies)
		p99, _ := stats.Percentile(latencies, 99)
		slowest, _ := stats.Max(latencies)
		fmt.Printf("latency ms: median %.3f, p99 %.3f, max %.3f\n", median, p99, slowest)
	}
	printJSON(k.Status())
}

var (
	globalContext context.Context
	globalCancel  context.CancelFunc
)

func main() {
	globalContext, globalCancel = context.WithCancel(context.Background())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sc
		log.Infof("got signal [%v] to exit", sig)
		globalCancel()
	}()

	rootCmd := &cobra.Command{
		Use:   "txnkernel",
		Short: "Transaction commit bookkeeping and crash recovery",
	}
	addGlobalFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(
		newServeCommand(),
		newRecoverCommand(),
		newStatusCommand(),
		newLoadCommand(),
	)
	cobra.EnablePrefixMatching = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(rootCmd.UsageString())
		os.Exit(1)
	}
	globalCancel()
	log.Sync()
}
