package status

import (
	"html/template"
)

type statusTemplateFile struct {
	Kind string
	Path string
}

type statusTemplateDevice struct {
	Location string
	ID       string
	Config   uint8
	Iface    uint8
	Triple   string
	In       string
	Out      string
}

type statusTemplateData struct {
	Version string
	Phase   string
	Files   []statusTemplateFile
	Device  *statusTemplateDevice
	Log     string

	IsError bool
	Error   string

	CSRFField template.HTML
}

const templateString = `
<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no">
  <title>qdl status</title>
  <style>
    body {
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", "Roboto", "Helvetica Neue", Arial, sans-serif;
    }

    h1 {
      font-size: 36px;
    }

    p {
      color: #858585;
    }

    #container {
      width: 100%;
    }

    .error {
      border: 1px solid orangered;
      border-radius: 4px;
      min-width: 320px;
      max-width: 500px;
      min-height: 33px;
      margin: 20px auto;
      position: relative;
      color: darkred;
      padding-top: 13px;
    }

    .item {
      border: 1px solid lightgray;
      border-radius: 4px;
      min-width: 320px;
      max-width: 500px;
      min-height: 100px;
      margin: 20px auto;
      position: relative;
    }

    .item h3 {
      left: 20px;
      position: absolute;
    }

    .item p {
      top: 50px;
      left: -5px;
      position: relative;
      font-size: 11px;
    }

    .item .session {
      top: 20px;
      right: 20px;
      position: absolute;
    }

    .item-content {
      width: 100%;
    }

    .inner-container {
      max-width: 1024px;
      margin: 0 auto;
      text-align: center;
      border-radius: 4px;
    }

    .badge {
      display: inline-block;
      padding: 6px 10px 6px 10px;
      border: 1px solid #01B757;
      border-radius: 4px;
      color: #01B757;
    }

    .heading {
      margin-bottom: 40px;
    }

    .space-top {
      margin-top: 34px;
    }

    .btn-primary {
      display: inline-block;
      padding: 10px 40px 10px 40px;
      background-color: #01B757;
      color: white;
      border-radius: 4px;
    }

    .btn-primary:hover {
      background-color: #00A24C;
    }

    textarea{
      max-width: 700px;
    }
  </style>
</head>

<body>
  <div id="container">
    <div class="inner-container">
      <div class="heading">
        <h1>qdl status</h1>
        <span class="badge">Version: {{.Version}}</span>
      </div>

      <p>Phase: {{.Phase}}</p>

      {{if .IsError}}
        <div class="error">
          <b>Error:</b> {{.Error}}
        </div>
      {{end}}

      <p>Staged files: {{len .Files}}</p>
      {{range .Files}}
      <div class="item">
        <div class="item-content">
        <h3>{{.Kind}}</h3>
        <p>{{.Path}}</p>
        </div>
      </div>
      {{end}}

      {{with .Device}}
      <div class="item">
        <div class="item-content">
        <h3>{{.ID}}</h3>
        <div class="session">config {{.Config}} interface {{.Iface}}</div>
        <p>Bus {{.Location}}, class {{.Triple}}, in {{.In}}, out {{.Out}}</p>
        </div>
      </div>
      {{else}}
      <p>No device opened yet</p>
      {{end}}

       <div class="space-top">
       <p>Console Log
       </p>
       <textarea rows="25" cols="150" id="log">
{{.Log}}
       </textarea>
       <form>
         {{.CSRFField}}
         <a href="#" id="submitlog" onClick="doSubmit()">
           <div class="btn-primary">Download detailed log</div>
         </a>
         <div id="wait" class="badge" style="display: none">Please wait...</div>
       </form>
     </div>

      <div class="space-top">
        <a href="#" onClick="location.href=location.href">
          <div class="btn-primary">Refresh page</div>
        </a>
      </div>
    </div>
  </div>
  <script>
  function doSubmit() {
    document.getElementById("submitlog").style.display = "none";
    document.getElementById("wait").style.display = "inline";

    const formElement = document.getElementsByTagName("form")[0]
    const data = new URLSearchParams();
    for (const pair of new FormData(formElement)) {
      data.append(pair[0], pair[1]);
    }

    fetch("/status/log.gz", {
      method: 'post',
      body: data,
      credentials: 'same-origin',
    }).then(function(resp) {
      return resp.blob();
    }).then(function(blob) {
      const url = window.URL.createObjectURL(blob);
      const a = document.createElement("a");

      document.body.appendChild(a);
      a.style = "display: none";
      a.href = url;
      a.download = "qdl-log.gz";
      a.click();

      window.URL.revokeObjectURL(url);

      document.getElementById("submitlog").style.display = "inline";
      document.getElementById("wait").style.display = "none";
    });
  }
  </script>
</body>
</html>
`

var statusTemplate = template.Must(template.New("status").Parse(templateString))
