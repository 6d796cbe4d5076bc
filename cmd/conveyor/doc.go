// Command conveyor is the operator CLI. It inspects and manipulates the
// pipeline queue directly through the shared SQLite database, so most
// commands work whether or not the daemon is running.
package main
