package assemble

import (
	"encoding/xml"
	"strconv"
	"strings"

	xslice "github.com/frantjc/x/slice"
	"github.com/goplus/apkbuild/internal/manifest"
)

const androidManifestName = "AndroidManifest.xml"

const androidNS = "http://schemas.android.com/apk/res/android"

type androidManifest struct {
	XMLName        xml.Name            `xml:"manifest"`
	Attrs          []xml.Attr          `xml:",any,attr"`
	UsesSdk        manifestElement     `xml:"uses-sdk"`
	UsesPermission []manifestElement   `xml:"uses-permission"`
	Application    manifestApplication `xml:"application"`
}

type manifestElement struct {
	Attrs []xml.Attr `xml:",any,attr"`
}

type manifestApplication struct {
	Attrs      []xml.Attr         `xml:",any,attr"`
	Activities []manifestActivity `xml:"activity"`
}

type manifestActivity struct {
	Attrs        []xml.Attr           `xml:",any,attr"`
	IntentFilter manifestIntentFilter `xml:"intent-filter"`
}

type manifestIntentFilter struct {
	Actions    []manifestElement `xml:"action"`
	Categories []manifestElement `xml:"category"`
}

// android returns an attribute in the android namespace. The prefix is
// written literally; encoding/xml would otherwise invent its own.
func android(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: "android:" + name}, Value: value}
}

func screenOrientation(o string) string {
	if o == "all" {
		return "fullSensor"
	}
	return o
}

// permissionName qualifies bare permission names, so INTERNET becomes
// android.permission.INTERNET.
func permissionName(p string) string {
	if strings.Contains(p, ".") {
		return p
	}
	return "android.permission." + p
}

func renderManifest(m *manifest.Manifest) ([]byte, error) {
	activity := manifestActivity{
		Attrs: []xml.Attr{
			android("name", "org.kivy.android.PythonActivity"),
			android("label", m.Title),
			android("screenOrientation", screenOrientation(m.Orientation)),
			android("configChanges", "keyboardHidden|orientation|screenSize"),
			android("exported", "true"),
		},
		IntentFilter: manifestIntentFilter{
			Actions:    []manifestElement{{Attrs: []xml.Attr{android("name", "android.intent.action.MAIN")}}},
			Categories: []manifestElement{{Attrs: []xml.Attr{android("name", "android.intent.category.LAUNCHER")}}},
		},
	}
	if m.Fullscreen {
		activity.Attrs = append(activity.Attrs, android("theme", "@android:style/Theme.NoTitleBar.Fullscreen"))
	}

	doc := androidManifest{
		Attrs: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:android"}, Value: androidNS},
			{Name: xml.Name{Local: "package"}, Value: m.PackageID()},
			android("versionCode", strconv.Itoa(m.VersionCode)),
			android("versionName", m.Version),
		},
		UsesSdk: manifestElement{Attrs: []xml.Attr{
			android("minSdkVersion", strconv.Itoa(m.MinAPI)),
			android("targetSdkVersion", strconv.Itoa(m.API)),
		}},
		UsesPermission: xslice.Map(m.Permissions, func(p string, _ int) manifestElement {
			return manifestElement{Attrs: []xml.Attr{android("name", permissionName(p))}}
		}),
		Application: manifestApplication{
			Attrs: []xml.Attr{
				android("label", m.Title),
				android("hasCode", "true"),
			},
			Activities: []manifestActivity{activity},
		},
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(data, '\n')...), nil
}
