// Command dashboard serves the dashboard's session, role and gated view
// endpoints.
package main

func main() {
	Execute()
}
