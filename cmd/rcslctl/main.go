// rcslctl is an offline companion tool for rcsl-sql-client. It reads the
// service's local data files directly and can probe the configured RCSL
// endpoint, which makes it useful when the service itself misbehaves.
package main

func main() {
	execute()
}
