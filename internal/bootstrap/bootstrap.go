// Package bootstrap selects department software and renders instance user data.
package bootstrap

import (
	"sort"
	"strings"

	"github.com/staffctl/staffctl/internal/config"
)

// Package is a named install script run once at first boot.
type Package struct {
	Name   string
	Script string
}

// None is used for departments without extra software.
var None = Package{
	Name:   "none",
	Script: `Write-Host "No extra software configured for department"`,
}

// Catalog maps a lower-cased department to its package.
type Catalog map[string]Package

// Default returns the built-in catalog.
func Default() Catalog {
	return Catalog{
		"hr": {
			Name: "firefox",
			Script: `$ffUrl  = "https://download.mozilla.org/?product=firefox-latest&os=win64&lang=en-US"
$ffPath = "C:\Temp\firefox-setup.exe"
Invoke-WebRequest -Uri $ffUrl -OutFile $ffPath
Start-Process -FilePath $ffPath -ArgumentList "/S" -Wait`,
		},
		"it": {
			Name: "putty",
			Script: `$puttyUrl  = "https://the.earth.li/~sgtatham/putty/latest/w64/putty-64bit-installer.msi"
$puttyPath = "C:\Temp\putty-installer.msi"
Invoke-WebRequest -Uri $puttyUrl -OutFile $puttyPath
Start-Process -FilePath "msiexec.exe" -ArgumentList "/i ` + "`" + `"$puttyPath` + "`" + `" /qn" -Wait`,
		},
	}
}

// FromConfig returns the default catalog with the configured entries added
// or replacing built-in ones.
func FromConfig(entries map[string]config.SoftwareEntry) Catalog {
	c := Default()
	for dept, e := range entries {
		name := e.Name
		if name == "" {
			name = dept
		}
		c[normalize(dept)] = Package{Name: name, Script: e.Script}
	}
	return c
}

// Select returns the package for department, or None.
func (c Catalog) Select(department string) Package {
	if p, ok := c[normalize(department)]; ok {
		return p
	}
	return None
}

// Departments lists the departments with a package, sorted.
func (c Catalog) Departments() []string {
	depts := make([]string, 0, len(c))
	for d := range c {
		depts = append(depts, d)
	}
	sort.Strings(depts)
	return depts
}

// UserData renders the first-boot script: a temp directory, the directory
// admin tools the account scripts rely on, then the package script.
func UserData(p Package) string {
	var b strings.Builder
	b.WriteString("<powershell>\n")
	b.WriteString(`New-Item -ItemType Directory -Path "C:\Temp" -Force | Out-Null
try {
    Add-WindowsCapability -Online -Name "Rsat.ActiveDirectory.DS-LDS.Tools~~~~0.0.1.0" -ErrorAction Stop | Out-Null
} catch {
    Install-WindowsFeature RSAT-AD-PowerShell -IncludeAllSubFeature -IncludeManagementTools | Out-Null
}
Import-Module ActiveDirectory -ErrorAction SilentlyContinue
`)
	b.WriteString(strings.TrimSpace(p.Script))
	b.WriteString("\n</powershell>")
	return b.String()
}

func normalize(department string) string {
	return strings.ToLower(strings.TrimSpace(department))
}
