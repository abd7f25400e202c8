package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// collar is a simulated animal wandering around a start point
type collar struct {
	ID  string
	Lat float64
	Lng float64
}

// herd serves get_device_info.php the way the vendor API does
type herd struct {
	mu       sync.Mutex
	collars  []*collar
	history  []map[string]interface{}
	username string
	password string
}

func newHerd(size int, username, password string) *herd {
	h := &herd{username: username, password: password}
	for i := 1; i <= size; i++ {
		h.collars = append(h.collars, &collar{
			ID:  fmt.Sprintf("COLLAR-%04d", i),
			Lat: 42.8 + rand.Float64()*0.1,
			Lng: -1.6 + rand.Float64()*0.1,
		})
	}
	return h
}

// move advances every collar and records the reading in history
func (h *herd) move(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.collars {
		c.Lat += (rand.Float64() - 0.5) * 0.001
		c.Lng += (rand.Float64() - 0.5) * 0.001
		h.history = append(h.history, reading(c, now))
	}
	// keep one day of readings
	if limit := len(h.collars) * 24 * 60; len(h.history) > limit {
		h.history = h.history[len(h.history)-limit:]
	}
}

func reading(c *collar, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"DEVICE_COLLAR":      c.ID,
		"LAT":                fmt.Sprintf("%.6f", c.Lat),
		"LNG":                fmt.Sprintf("%.6f", c.Lng),
		"DEVICE_TIME":        at.Format("2006-01-02 15:04:05"),
		"DEVICE_ALARM":       0,
		"DEVICE_ACTIVITY":    rand.Intn(2),
		"DEVICE_TEMPERATURE": 1,
		"RAW_TEMPERATURE":    float64(int((37.5+rand.Float64()*2)*10)) / 10,
	}
}

func (h *herd) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != h.username || pass != h.password {
		fmt.Printf("[%s] rejected credentials for %q\n", time.Now().Format("15:04:05"), user)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	h.mu.Lock()
	devices := make([]map[string]interface{}, 0, len(h.collars))
	history := []map[string]interface{}{}
	start, end := r.URL.Query().Get("init_date"), r.URL.Query().Get("end_date")
	if start != "" && end != "" {
		for _, rec := range h.history {
			t := rec["DEVICE_TIME"].(string)
			if t >= start && t <= end {
				history = append(history, rec)
			}
		}
	} else if n := len(h.collars); len(h.history) >= n {
		devices = append(devices, h.history[len(h.history)-n:]...)
	}
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "OK",
		"data": map[string]interface{}{
			"devices": devices,
			"history": history,
		},
	})
	fmt.Printf("[%s] served %d devices, %d history readings\n", time.Now().Format("15:04:05"), len(devices), len(history))
}

func main() {
	mode := flag.String("mode", "vendor", "run mode: vendor, subscribe")
	addr := flag.String("addr", ":8089", "vendor API listen address")
	size := flag.Int("collars", 5, "number of simulated collars")
	interval := flag.Duration("interval", time.Minute, "time between collar readings")
	username := flag.String("username", "user", "vendor (or MQTT) username")
	password := flag.String("password", "password", "vendor (or MQTT) password")
	broker := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	topic := flag.String("topic", "observations/#", "observation topic filter")
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	switch *mode {
	case "vendor":
		runVendor(*addr, *size, *interval, *username, *password, sigChan)
	case "subscribe":
		runSubscriber(*broker, *topic, *username, *password, sigChan)
	default:
		fmt.Println("unknown mode, use vendor or subscribe")
		os.Exit(1)
	}
}

// runVendor serves a fake DigitAnimal API at http://addr/get_device_info.php
func runVendor(addr string, size int, interval time.Duration, username, password string, stop <-chan os.Signal) {
	h := newHerd(size, username, password)
	h.move(time.Now().UTC())

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for now := range ticker.C {
			h.move(now.UTC())
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/get_device_info.php", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("vendor API stopped: %v\n", err)
			os.Exit(1)
		}
	}()
	fmt.Printf("vendor API with %d collars listening on %s, new readings every %v\n", size, addr, interval)

	<-stop
	_ = srv.Close()
}

// runSubscriber prints every observation the connector publishes
func runSubscriber(broker, topic, username, password string, stop <-chan os.Signal) {
	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("digitanimal-observer-%d", time.Now().Unix()))
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		fmt.Printf("connection lost: %v\n", err)
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		fmt.Printf("failed to connect to MQTT broker: %v\n", token.Error())
		os.Exit(1)
	}
	fmt.Printf("connected to MQTT broker: %s\n", broker)

	token := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		fmt.Printf("[%s] %s: %s\n", time.Now().Format("15:04:05"), msg.Topic(), string(msg.Payload()))
	})
	if token.Wait() && token.Error() != nil {
		fmt.Printf("failed to subscribe to %s: %v\n", topic, token.Error())
		os.Exit(1)
	}

	<-stop
	fmt.Println("disconnecting...")
	client.Disconnect(250)
}
