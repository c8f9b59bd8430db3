package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/shiena/ansicolor"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	hf bool
	cf string
)

func init() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&cf, "c", "tilewarm.toml", "set config `file`")
	flag.Usage = usage

	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	log.SetOutput(ansicolor.NewAnsiColorWriter(os.Stdout))
	log.SetLevel(log.DebugLevel)
}

func usage() {
	fmt.Fprintf(os.Stderr, `tilewarm
Usage: tilewarm [-h] [-c filename]

Primes a running tileserver's cache over a region and zoom range by
issuing ordinary tile requests against it.
`)
	flag.PrintDefaults()
}

func initConf(cfgFile string) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		log.Warnf("config file(%s) not exist", cfgFile)
	}
	viper.SetConfigType("toml")
	viper.SetConfigFile(cfgFile)
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		log.Warnf("read config file(%s) error, details: %s", viper.ConfigFileUsed(), err)
	}
	viper.SetDefault("warm.server", "127.0.0.1:8080")
	viper.SetDefault("warm.version", "v1")
	viper.SetDefault("warm.ext", "png")
	viper.SetDefault("warm.workers", 16)
	viper.SetDefault("region.min_zoom", 0)
	viper.SetDefault("region.max_zoom", 10)
}

func loadRegion(path string) (orb.Collection, error) {
	if path == "" {
		world := orb.Bound{Min: orb.Point{-180, -85.0511}, Max: orb.Point{180, 85.0511}}
		return orb.Collection{world}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tilewarm: read region %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("tilewarm: parse region %s: %w", path, err)
	}
	var out orb.Collection
	for _, f := range fc.Features {
		out = append(out, f.Geometry)
	}
	return out, nil
}

func main() {
	flag.Parse()
	if hf {
		flag.Usage()
		return
	}
	initConf(cf)

	region, err := loadRegion(viper.GetString("region.geojson"))
	if err != nil {
		log.Fatal(err)
	}

	endpoint := viper.GetString("warm.endpoint")
	if endpoint == "" {
		log.Fatal("tilewarm: warm.endpoint is required")
	}

	task := NewTask(
		viper.GetString("warm.server"),
		viper.GetString("warm.version"),
		endpoint,
		viper.GetStringSlice("warm.tags"),
		viper.GetString("warm.ext"),
		viper.GetString("warm.layers"),
		viper.GetInt("region.min_zoom"),
		viper.GetInt("region.max_zoom"),
		region,
		viper.GetInt("warm.workers"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("tilewarm: interrupted, aborting")
		task.Abort()
	}()

	start := time.Now()
	task.Warm(ctx)
	hits, misses := task.Summary()
	log.Printf("tilewarm: task %s finished in %.3fs, %d hits / %d misses", task.ID, time.Since(start).Seconds(), hits, misses)
}
