// Package config provides configuration parsing for tablesync.
//
// The configuration is stored in tablesync.json next to the data directory.
// This package handles loading, saving, and validating configuration.
// Every field can be overridden by a TABLESYNC_* environment variable.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "addr": ":7777",
//	    "tableKey": "default",
//	    "broadcastInterval": "100ms",
//	    "persistDelay": "1s",
//	    "persistMaxDelay": "10s",
//	    "compressThreshold": 8192,
//	    "maxSessions": 0
//	  },
//	  "store": {
//	    "driver": "sqlite",
//	    "path": "data/tablesync.db"
//	  },
//	  "client": {
//	    "serverUrl": "ws://localhost:7777/ws"
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "text"
//	  }
//	}
//
// S3 credentials are never read from the file; set
// TABLESYNC_S3_ACCESS_KEY_ID and TABLESYNC_S3_SECRET_ACCESS_KEY.
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.ApplyEnv(); err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Listening on", cfg.Server.Addr)
package config
