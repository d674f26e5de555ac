package api

import (
	"net/http"
	"testing"

	"github.com/seantiz/tremor/internal/model"
	"github.com/seantiz/tremor/internal/store"
)

const testExposureXML = `<?xml version="1.0" encoding="UTF-8"?>
<nrml xmlns="http://openquake.org/xmlns/nrml/0.5">
  <exposureModel id="groningen_buildings" category="buildings" taxonomySource="GEM">
    <description>Groningen building stock</description>
    <occupancyPeriods>day night</occupancyPeriods>
    <tagNames>municipality postalcode</tagNames>
    <assets>exposure_assets.csv</assets>
  </exposureModel>
</nrml>`

const testAssetCSV = `id,lon,lat,taxonomy,number,structural,contents,day_occupants,night_occupants,municipality,postalcode
a1,6.57,53.22,CR_LFM,1,250000,50000,4,2,Groningen,9711
a2,6.57,53.22,MUR_LWAL,2,180000,30000,3,5,Groningen,9712
a3,6.60,53.25,CR_LFM,1,300000,60000,2,1,Loppersum,9919
`

const testVulnerabilityXML = `<?xml version="1.0" encoding="UTF-8"?>
<nrml xmlns="http://openquake.org/xmlns/nrml/0.5">
  <vulnerabilityModel id="structural_vulnerability" assetCategory="buildings" lossCategory="structural">
    <description>Structural loss curves</description>
    <vulnerabilityFunction id="CR_LFM" dist="LN">
      <imls imt="PGA">0.05 0.1 0.2 0.4</imls>
      <meanLRs>0.01 0.1 0.4 0.8</meanLRs>
      <covLRs>0.3 0.3 0.2 0.1</covLRs>
    </vulnerabilityFunction>
    <vulnerabilityFunction id="MUR_LWAL" dist="LN">
      <imls imt="PGA">0.05 0.1 0.2 0.4</imls>
      <meanLRs>0.05 0.2 0.6 0.9</meanLRs>
    </vulnerabilityFunction>
  </vulnerabilityModel>
</nrml>`

const testRiskINI = `[general]
description = Groningen scenario risk
calculation_mode = scenario_risk

[hazard]
number_of_ground_motion_fields = 100
maximum_distance = 300
truncation_level = 3
random_seed = 42

[risk]
master_seed = 7
`

// uploadExposure posts the fixture exposure model and returns the created
// collection.
func uploadExposure(t *testing.T, baseURL string) *store.AssetCollectionSummary {
	t.Helper()
	body, contentType := multipartBody(t, map[string]string{
		"exposureXML": testExposureXML,
		"exposureCSV": testAssetCSV,
	}, nil)
	resp, err := http.Post(baseURL+"/v1/exposure", contentType, body)
	if err != nil {
		t.Fatalf("POST /v1/exposure: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /v1/exposure status = %d, want 201", resp.StatusCode)
	}
	c := decodeBody[*store.AssetCollectionSummary](t, resp.Body)
	return c
}

// uploadVulnerability posts the fixture vulnerability model and returns the
// created model.
func uploadVulnerability(t *testing.T, baseURL string) *store.VulnerabilityModelSummary {
	t.Helper()
	body, contentType := multipartBody(t, map[string]string{
		"vulnerabilityModel": testVulnerabilityXML,
	}, nil)
	resp, err := http.Post(baseURL+"/v1/vulnerability", contentType, body)
	if err != nil {
		t.Fatalf("POST /v1/vulnerability: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /v1/vulnerability status = %d, want 201", resp.StatusCode)
	}
	m := decodeBody[*store.VulnerabilityModelSummary](t, resp.Body)
	return m
}

// createLossModel posts the fixture job config bound to the given collection
// and vulnerability model and returns the created loss model.
func createLossModel(t *testing.T, baseURL, collectionID, vulnerabilityID string) *model.LossModel {
	t.Helper()
	body, contentType := multipartBody(t,
		map[string]string{"riskIni": testRiskINI},
		map[string]string{
			"name":                    "groningen scenario",
			"asset_collection_id":     collectionID,
			"vulnerability_model_ids": vulnerabilityID,
		})
	resp, err := http.Post(baseURL+"/v1/lossmodels", contentType, body)
	if err != nil {
		t.Fatalf("POST /v1/lossmodels: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /v1/lossmodels status = %d, want 201", resp.StatusCode)
	}
	lm := decodeBody[*model.LossModel](t, resp.Body)
	return lm
}

// createLossConfig posts a structural loss config for the given loss model.
func createLossConfig(t *testing.T, baseURL, lossModelID string) *model.LossConfig {
	t.Helper()
	resp, err := http.Post(baseURL+"/v1/lossconfigs", "application/json",
		jsonBody(t, map[string]string{
			"loss_model_id": lossModelID,
			"loss_category": "structural",
		}))
	if err != nil {
		t.Fatalf("POST /v1/lossconfigs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /v1/lossconfigs status = %d, want 201", resp.StatusCode)
	}
	cfg := decodeBody[*model.LossConfig](t, resp.Body)
	return cfg
}
