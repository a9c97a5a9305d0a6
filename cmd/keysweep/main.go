package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/rawblock/keysweep/internal/api"
	"github.com/rawblock/keysweep/internal/bitcoind"
	"github.com/rawblock/keysweep/internal/db"
	"github.com/rawblock/keysweep/internal/feerate"
	"github.com/rawblock/keysweep/internal/keys"
	"github.com/rawblock/keysweep/internal/oracle"
	"github.com/rawblock/keysweep/internal/registry"
	"github.com/rawblock/keysweep/internal/scanner"
	"github.com/rawblock/keysweep/internal/txbuilder"
)

const dialTimeout = 10 * time.Second

// serverEntry is one fallback oracle endpoint from servers.json.
type serverEntry struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		runServe()
		return
	}

	var (
		address     = flag.String("address", "", "destination address; enables sweeping the discovered UTXOs")
		broadcast   = flag.Bool("broadcast", false, "broadcast the signed sweep transaction")
		feeRateFlag = flag.Int64("fee-rate", 0, "fee rate in sat/vByte; 0 asks the oracle for an estimate")
		addressGap  = flag.Uint("address-gap", 20, "consecutive unused address indexes before a chain is abandoned")
		accountGap  = flag.Uint("account-gap", 0, "consecutive unused accounts before an account axis is abandoned")
		host        = flag.String("host", "", "oracle host; empty selects one from servers.json")
		port        = flag.String("port", "50002", "oracle port")
		protocol    = flag.String("protocol", "s", "oracle protocol: t (TCP) or s (TLS)")
		noBatching  = flag.Bool("no-batching", false, "probe one script per RPC instead of batching")
		serversFile = flag.String("servers", "servers.json", "fallback oracle endpoint list")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <mnemonic|xprv|xpub>\n       %s serve\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	masterKey, err := keys.Parse(flag.Arg(0))
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	if *address != "" && !masterKey.HasPrivateKey() {
		log.Fatalf("FATAL: %v", keys.ErrNoPrivateKey)
	}

	client := dialOracle(*host, *port, oracle.Protocol(*protocol), *serversFile)
	defer client.Close()

	batchSize := scanner.MaxBatchSize
	if *noBatching {
		batchSize = 1
	}

	s := scanner.New(client, registry.Default(), uint32(*addressGap), uint32(*accountGap), batchSize, printEvents)
	utxos, err := s.Scan(masterKey)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	cov := s.Coverage()
	log.Printf("[Scanner] probed %d scripts across %d templates (%d gap hits)", cov.ScriptsProbed, cov.TemplatesProbed, cov.GapHits)

	total := int64(0)
	for _, u := range utxos {
		total += u.AmountSat
	}
	log.Printf("[Scanner] found %d UTXOs totalling %d sats", len(utxos), total)
	for _, u := range utxos {
		fmt.Printf("%s:%d\t%d sat\t%s\t%s\n", u.Txid, u.OutputIndex, u.AmountSat, u.Path, u.ScriptType)
	}

	if *address == "" || len(utxos) == 0 {
		return
	}

	rate := resolveFeeRate(client, *feeRateFlag)

	_, raw, err := txbuilder.SweepAll(masterKey, utxos, *address, rate)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	rawHex := hex.EncodeToString(raw)
	fmt.Println(rawHex)

	if !*broadcast {
		return
	}
	txid, err := client.Broadcast(rawHex)
	if err != nil {
		// The Electrum server may simply not implement broadcast; a local
		// node, when configured, still can.
		txid, err = broadcastViaBitcoind(raw, err)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
	}
	log.Printf("[Sweep] broadcast txid=%s", txid)
}

// printEvents is the CLI's scan progress reporter.
func printEvents(d *scanner.UsedDescriptor, u *scanner.UtxoFound) {
	switch {
	case d != nil:
		log.Printf("[Scanner] wallet activity under %s (%s)", d.Path, d.ScriptType)
	case u != nil:
		log.Printf("[Scanner] unspent %d sat at %s (%s)", u.AmountSat, u.Path, u.ScriptType)
	}
}

// dialOracle connects to the explicit --host when given, else walks
// servers.json in random order until one endpoint answers.
func dialOracle(host, port string, protocol oracle.Protocol, serversFile string) *oracle.Client {
	if host != "" {
		client, err := oracle.Dial(host, port, protocol, dialTimeout)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		return client
	}

	servers, err := loadServers(serversFile)
	if err != nil {
		log.Fatalf("FATAL: no --host given and %v", err)
	}
	rand.Shuffle(len(servers), func(i, j int) { servers[i], servers[j] = servers[j], servers[i] })

	for _, srv := range servers {
		client, err := oracle.Dial(srv.Host, strconv.Itoa(srv.Port), protocol, dialTimeout)
		if err != nil {
			log.Printf("[Oracle] %s:%d unreachable: %v", srv.Host, srv.Port, err)
			continue
		}
		log.Printf("[Oracle] connected to %s:%d", srv.Host, srv.Port)
		return client
	}
	log.Fatalf("FATAL: %v: every endpoint in %s failed", oracle.ErrOracleUnavailable, serversFile)
	return nil
}

func loadServers(path string) ([]serverEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var servers []serverEntry
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("%s lists no servers", path)
	}
	return servers, nil
}

// resolveFeeRate returns the sat/vB rate to sweep at: the manual
// --fee-rate when given, else the Electrum estimate, else a local node's
// estimatesmartfee when BTC_RPC_* is configured.
func resolveFeeRate(client *oracle.Client, manual int64) int64 {
	rate := manual
	if rate == 0 {
		estimated, err := client.EstimateFee(1)
		if err != nil {
			if !errors.Is(err, oracle.ErrFeeUnavailable) && !errors.Is(err, oracle.ErrOracleRejected) {
				log.Fatalf("FATAL: %v", err)
			}
			estimated = feeRateViaBitcoind(err)
		}
		rate = estimated
	}
	if err := feerate.Sanity(float64(rate)); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	log.Printf("[Sweep] fee rate %d sat/vB (%s)", rate, feerate.Classify(float64(rate)))
	return rate
}

func feeRateViaBitcoind(cause error) int64 {
	node := dialBitcoind()
	if node == nil {
		log.Fatalf("FATAL: %v and no local node configured; pass --fee-rate", cause)
	}
	defer node.Shutdown()

	satVB, err := node.EstimateSmartFeeSatVB(1)
	if err != nil || satVB <= 0 {
		log.Fatalf("FATAL: %v and local node estimate failed (%v); pass --fee-rate", cause, err)
	}
	log.Printf("[Sweep] fee estimate via local node: %.1f sat/vB", satVB)
	return int64(satVB)
}

func broadcastViaBitcoind(raw []byte, cause error) (string, error) {
	node := dialBitcoind()
	if node == nil {
		return "", cause
	}
	defer node.Shutdown()

	hash, err := node.Broadcast(raw)
	if err != nil {
		return "", fmt.Errorf("%v; local node: %w", cause, err)
	}
	return hash.String(), nil
}

// dialBitcoind returns a local-node client when BTC_RPC_USER/BTC_RPC_PASS
// are configured, else nil.
func dialBitcoind() *bitcoind.Client {
	user := os.Getenv("BTC_RPC_USER")
	pass := os.Getenv("BTC_RPC_PASS")
	if user == "" || pass == "" {
		return nil
	}
	node, err := bitcoind.NewClient(bitcoind.Config{
		Host: getEnvOrDefault("BTC_RPC_HOST", "localhost:8332"),
		User: user,
		Pass: pass,
	})
	if err != nil {
		log.Printf("[Sweep] local node unavailable: %v", err)
		return nil
	}
	return node
}

// runServe starts the long-running HTTP/WebSocket server mode.
func runServe() {
	log.Println("Starting keysweep scan/sweep engine (serve mode)...")

	var dbConn *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		conn, err := db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without the scan-session audit log. Error: %v", err)
		} else {
			dbConn = conn
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	}

	electrumHost := requireEnv("ELECTRUM_HOST")
	electrumPort := getEnvOrDefault("ELECTRUM_PORT", "50002")
	electrumProto := oracle.Protocol(getEnvOrDefault("ELECTRUM_PROTOCOL", "s"))

	dialer := func() (api.SessionOracle, error) {
		client, err := oracle.Dial(electrumHost, electrumPort, electrumProto, dialTimeout)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	wsHub := api.NewHub()
	go wsHub.Run()

	r := api.SetupRouter(dbConn, wsHub, dialer)

	serverPort := getEnvOrDefault("PORT", "5339")
	log.Printf("Engine running on :%s", serverPort)
	if err := r.Run(":" + serverPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set.", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
