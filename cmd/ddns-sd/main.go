// Command ddns-sd is the long-running DNS-SD reconciliation daemon:
// it watches the Docker event stream and keeps the configured
// backends' DNS records in sync with the containers running on this
// host.
package main

func main() {
	Execute()
}
