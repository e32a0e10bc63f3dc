package probe

import (
	"net/url"
)

// Coordinates the application's weather, air quality and tide panels are
// centered on.
const (
	lat = "46.81"
	lon = "-71.20"
)

// ExternalEndpoints returns the third party services the application reads
// from. Endpoints that need an API key are left unconfigured when getenv
// has none for them.
func ExternalEndpoints(getenv func(string) string) []Endpoint {
	keyed := func(key, raw string, q url.Values) string {
		if getenv(key) == "" {
			return ""
		}
		return raw + "?" + q.Encode()
	}

	openAQ := Endpoint{
		Name: "OpenAQ",
		URL: keyed("OPENAQ_API_KEY", "https://api.openaq.org/v3/locations", url.Values{
			"coordinates": {lat + "," + lon},
			"radius":      {"5000"},
		}),
	}
	if k := getenv("OPENAQ_API_KEY"); k != "" {
		openAQ.Headers = map[string]string{"X-API-Key": k}
	}

	return []Endpoint{
		{
			Name: "OpenWeatherMap",
			URL: keyed("WEATHER_API_KEY", "https://api.openweathermap.org/data/2.5/weather", url.Values{
				"lat":   {lat},
				"lon":   {lon},
				"units": {"metric"},
				"APPID": {getenv("WEATHER_API_KEY")},
			}),
		},
		openAQ,
		{
			Name: "WorldTides",
			URL: keyed("API_TIDES_KEY", "https://www.worldtides.info/api/v3", url.Values{
				"heights": {""},
				"key":     {getenv("API_TIDES_KEY")},
				"lat":     {lat},
				"lon":     {lon},
				"days":    {"1"},
			}),
		},
		{Name: "ipify", URL: "https://api64.ipify.org?format=json"},
		{Name: "ip-api", URL: "http://ip-api.com/json/"},
		{Name: "Celestrak", URL: "https://celestrak.com/NORAD/elements/stations.txt"},
		{
			Name: "Environment Canada (SWOB)",
			URL:  "https://api.weather.gc.ca/collections/swob-realtime/items?bbox=-71.3,-46.7,-71.1,46.9&limit=1&f=json",
		},
		{Name: "Environment Canada (XML)", URL: "https://dd.meteo.gc.ca/citypage_weather/xml/QC/s0000430_e.xml"},
		{Name: "Environment Canada (GeoMet)", URL: "https://geo.weather.gc.ca/geomet"},
		{Name: "Data API", URL: getenv("DATA_API_URL")},
	}
}
