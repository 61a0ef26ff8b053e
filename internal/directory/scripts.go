package directory

import (
	"strings"
	"text/template"
)

// Every interpolated value goes through q, which renders a PowerShell
// single-quoted literal.
var funcs = template.FuncMap{"q": psQuote}

const rsatPrelude = `$ErrorActionPreference = 'Stop'
if (-not (Get-Module -ListAvailable -Name ActiveDirectory)) {
    try {
        Add-WindowsCapability -Online -Name 'Rsat.ActiveDirectory.DS-LDS.Tools~~~~0.0.1.0' -ErrorAction Stop | Out-Null
    } catch {
        Install-WindowsFeature RSAT-AD-PowerShell -IncludeAllSubFeature -IncludeManagementTools | Out-Null
    }
}
Import-Module ActiveDirectory
$Server = {{q .Server}}
$AdminPass = ConvertTo-SecureString {{q .AdminPassword}} -AsPlainText -Force
$Cred = New-Object System.Management.Automation.PSCredential ({{q .AdminUPN}}, $AdminPass)
`

var upsertAccountScript = template.Must(template.New("upsert").Funcs(funcs).Parse(rsatPrelude + `
$User = {{q .Username}}
$Pass = ConvertTo-SecureString {{q .Password}} -AsPlainText -Force
$Upn = {{q .UPN}}
$DisplayName = {{q .DisplayName}}
$Mail = {{q .Email}}
$Dept = {{q .Department}}
$Ou = {{q .OU}}
$GroupName = {{q .Group}}

$existing = Get-ADUser -Server $Server -Filter "sAMAccountName -eq '$User'" -Credential $Cred -ErrorAction SilentlyContinue
if ($existing) {
    Set-ADAccountPassword -Server $Server -Identity $User -NewPassword $Pass -Reset -Credential $Cred
    Enable-ADAccount -Server $Server -Identity $User -Credential $Cred
    Set-ADUser -Server $Server -Identity $User -DisplayName $DisplayName -UserPrincipalName $Upn -Department $Dept -Credential $Cred
    if ($Mail) { Set-ADUser -Server $Server -Identity $User -EmailAddress $Mail -Credential $Cred }
    Write-Host "updated $User"
} else {
    $params = @{
        Server            = $Server
        Name              = $DisplayName
        SamAccountName    = $User
        UserPrincipalName = $Upn
        DisplayName       = $DisplayName
        Path              = $Ou
        AccountPassword   = $Pass
        Enabled           = $true
        Department        = $Dept
        Credential        = $Cred
    }
    if ($Mail) { $params.EmailAddress = $Mail }
    New-ADUser @params
    Write-Host "created $User"
}
Set-ADUser -Server $Server -Identity $User -ChangePasswordAtLogon $false -Credential $Cred

$grp = Get-ADGroup -Server $Server -Filter "Name -eq '$GroupName'" -Credential $Cred -ErrorAction SilentlyContinue
if (-not $grp) {
    New-ADGroup -Server $Server -Name $GroupName -SamAccountName $GroupName -GroupScope Global -Path $Ou -Description "RBAC group for $Dept" -Credential $Cred
}
try {
    Add-ADGroupMember -Server $Server -Identity $GroupName -Members $User -Credential $Cred
} catch {
    Write-Host "Add-ADGroupMember failed: $_"
}
`))

var membershipScript = template.Must(template.New("membership").Funcs(funcs).Parse(rsatPrelude + `
$User = {{q .Username}}
$Pass = ConvertTo-SecureString {{q .Password}} -AsPlainText -Force
$DisplayName = {{q .DisplayName}}
$GroupName = {{q .Group}}

$existing = Get-ADUser -Server $Server -Filter "sAMAccountName -eq '$User'" -Credential $Cred -ErrorAction SilentlyContinue
if (-not $existing) {
    $params = @{
        Server            = $Server
        Name              = $DisplayName
        SamAccountName    = $User
        UserPrincipalName = {{q .UPN}}
        DisplayName       = $DisplayName
        AccountPassword   = $Pass
        Enabled           = $true
        Credential        = $Cred
    }
{{- if .OU}}
    $params.Path = {{q .OU}}
{{- end}}
    New-ADUser @params
}
Set-ADUser -Server $Server -Identity $User -ChangePasswordAtLogon $false -Credential $Cred
Add-ADGroupMember -Server $Server -Identity $GroupName -Members $User -Credential $Cred
Write-Host "$User is member of $GroupName"
`))

var resetPasswordScript = template.Must(template.New("reset").Funcs(funcs).Parse(rsatPrelude + `
$User = {{q .Username}}
$Pass = ConvertTo-SecureString {{q .Password}} -AsPlainText -Force
Set-ADAccountPassword -Server $Server -Identity $User -NewPassword $Pass -Reset -Credential $Cred
Enable-ADAccount -Server $Server -Identity $User -Credential $Cred
Set-ADUser -Server $Server -Identity $User -ChangePasswordAtLogon $false -Credential $Cred
Write-Host "password reset for $User"
`))

var deleteAccountScript = template.Must(template.New("delete").Funcs(funcs).Parse(rsatPrelude + `
$User = {{q .Username}}
$existing = Get-ADUser -Server $Server -Filter "sAMAccountName -eq '$User'" -Credential $Cred -ErrorAction SilentlyContinue
if ($existing) {
    Remove-ADUser -Server $Server -Identity $User -Confirm:$false -Credential $Cred
    Write-Host "removed $User"
} else {
    Write-Host "$User not present"
}
`))

var grantAccessScript = template.Must(template.New("grant").Funcs(funcs).Parse(`$ErrorActionPreference = 'Stop'
$target = {{q .Member}}
Add-LocalGroupMember -Group 'Remote Desktop Users' -Member $target
try {
    Add-LocalGroupMember -Group 'Administrators' -Member $target -ErrorAction Stop
} catch {
    Write-Host "Admin add skipped: $_"
}
net localgroup 'Remote Desktop Users'
`))

type scriptData struct {
	Server        string
	AdminUPN      string
	AdminPassword string

	Username    string
	Password    string
	UPN         string
	DisplayName string
	Email       string
	Department  string
	OU          string
	Group       string

	Member string
}

func render(t *template.Template, data scriptData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// psQuote renders s as a single-quoted PowerShell string. Inside single quotes
// only the quote character itself needs escaping, by doubling.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
