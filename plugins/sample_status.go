// Sample extension: reports readiness through the optional hook.
package plugin

import "fmt"

var PluginMeta = map[string]string{
	"name":    "sample-status",
	"version": "1.0",
}

// OnLoad confirms the extension path works end to end.
func OnLoad() error {
	fmt.Println("sample plugin active: status panel ready")
	return nil
}
