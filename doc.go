// Package scuttle implements the self-destruct subsystem of a secure
// messaging client: four independent trigger sources (inactivity,
// mandatory reauthentication, remote revocation, forensic detection)
// feeding a single aggregator, which hands an authorized kill token to
// a multi-phase destruction engine.
//
// The Supervisor owns the monitor goroutines and starts and stops them
// deterministically; all configuration and storage handles are
// dependency-injected, and user-facing notification is routed through
// a callback interface so the core runs without a UI.
//
// Example:
//
//	opts := scuttle.Options{
//	    DeviceID:       "device-1",
//	    DataDir:        "/data/app/scuttle",
//	    MasterPassword: []byte("derived-from-keyring"),
//	}
//	sup, err := scuttle.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sup.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer sup.Stop()
//
//	// Lifecycle hooks feed the dead-man monitors.
//	sup.RecordActivity()
//	sup.RecordReauth()
//
// The overwrite-then-delete erasure protocol gives no guarantee
// against wear-leveled flash storage; this package specifies the
// erasure protocol, not a hardware guarantee.
package scuttle
